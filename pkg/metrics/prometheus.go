package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Recorder that lazily creates one CounterVec per Add name and
// one HistogramVec per Observe name. The label set of a metric is fixed by
// the tags of its first use; later tags outside that set are dropped and
// missing ones are recorded as "".
type Prometheus struct {
	namespace string
	reg       prometheus.Registerer
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
}

type counter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// NewPrometheus returns a recorder registering with reg. namespace prefixes
// every metric name; buckets default to 0.1ms..~400ms exponential buckets
// (values are observed in milliseconds).
func NewPrometheus(reg prometheus.Registerer, namespace string, buckets []float64) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(0.1, 2, 13)
	}
	return &Prometheus{
		namespace:  namespace,
		reg:        reg,
		buckets:    buckets,
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
	}
}

func (p *Prometheus) Add(name string, value float64, tags map[string]string) {
	c, err := p.counter(name, tags)
	if err != nil {
		return
	}
	c.vec.WithLabelValues(labelValues(c.labels, tags)...).Add(value)
}

func (p *Prometheus) Observe(name string, value float64, tags map[string]string) {
	h, err := p.histogram(name, tags)
	if err != nil {
		return
	}
	h.vec.WithLabelValues(labelValues(h.labels, tags)...).Observe(value)
}

func (p *Prometheus) counter(name string, tags map[string]string) (*counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      sanitize(name) + "_total",
		Help:      "Total " + name + " events",
	}, labels)
	if err := p.reg.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	c := &counter{vec: vec, labels: labels}
	p.counters[name] = c
	return c, nil
}

func (p *Prometheus) histogram(name string, tags map[string]string) (*histogram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      sanitize(name) + "_ms",
		Help:      "Distribution of " + name + " in milliseconds",
		Buckets:   p.buckets,
	}, labels)
	if err := p.reg.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	h := &histogram{vec: vec, labels: labels}
	p.histograms[name] = h
	return h, nil
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitize(k))
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for k, v := range tags {
		byLabel[sanitize(k)] = v
	}
	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = byLabel[l]
	}
	return values
}

var sanitizer = strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")

func sanitize(name string) string {
	return sanitizer.Replace(name)
}
