package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/manenim/gateway-guard/pkg/clock"
)

type kind int

const (
	kindString kind = iota
	kindHash
	kindZSet
)

type entry struct {
	kind     kind
	str      string
	hash     map[string]string
	zset     map[string]float64
	expireAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// access, so memory held by keys that are never touched again is only
// reclaimed through Sweep.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]*entry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used to evaluate expiry.
func WithMemoryClock(c clock.Clock) MemoryOption {
	return func(m *MemoryStore) {
		m.clock = clock.Ensure(c)
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		clock: clock.Real{},
		data:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storeError("ping", "", err)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, storeError("get", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tx().Get(key)
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return storeError("set", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx().Set(key, value, ttl)
	return nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeError("setnx", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.tx().Set(key, value, ttl)
	return true, nil
}

func (m *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeError("compare-and-delete", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.kind != kindString || e.str != expected {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *MemoryStore) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeError("compare-and-expire", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.kind != kindString || e.str != expected {
		return false, nil
	}
	return m.tx().PExpire(key, ttl), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storeError("del", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, storeError("pttl", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return 0, false, nil
	}
	if e.expireAt.IsZero() {
		return 0, true, nil
	}
	return e.expireAt.Sub(m.clock.Now()), true, nil
}

func (m *MemoryStore) Eval(ctx context.Context, s *Script, keys []string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("eval "+s.name, firstKey(keys), err)
	}
	if s.local == nil {
		return nil, fmt.Errorf("keystore eval %s: %w", s.name, ErrNoLocalScript)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.local(m.tx(), keys, args)
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	n := 0
	for k, e := range m.data {
		if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if m.lookup(k) != nil {
			n++
		}
	}
	return n
}

// lookup returns the live entry for key. Callers hold m.mu.
func (m *MemoryStore) lookup(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !m.clock.Now().Before(e.expireAt) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *MemoryStore) tx() memTx { return memTx{m: m} }

type memTx struct {
	m *MemoryStore
}

func (t memTx) Get(key string) (string, bool) {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindString {
		return "", false
	}
	return e.str, true
}

func (t memTx) Set(key, value string, ttl time.Duration) {
	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = t.m.clock.Now().Add(ttl)
	}
	t.m.data[key] = e
}

func (t memTx) Delete(key string) bool {
	if t.m.lookup(key) == nil {
		return false
	}
	delete(t.m.data, key)
	return true
}

func (t memTx) HGet(key, field string) (string, bool) {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindHash {
		return "", false
	}
	v, ok := e.hash[field]
	return v, ok
}

func (t memTx) HSet(key string, values map[string]string) {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindHash {
		e = &entry{kind: kindHash, hash: make(map[string]string, len(values))}
		t.m.data[key] = e
	}
	for f, v := range values {
		e.hash[f] = v
	}
}

func (t memTx) ZAdd(key string, score float64, member string) {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindZSet {
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		t.m.data[key] = e
	}
	e.zset[member] = score
}

func (t memTx) ZRemRangeByScore(key string, max float64) int64 {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindZSet {
		return 0
	}
	var n int64
	for member, score := range e.zset {
		if score <= max {
			delete(e.zset, member)
			n++
		}
	}
	if len(e.zset) == 0 {
		delete(t.m.data, key)
	}
	return n
}

func (t memTx) ZCard(key string) int64 {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindZSet {
		return 0
	}
	return int64(len(e.zset))
}

func (t memTx) ZScoreAt(key string, rank int64) (float64, bool) {
	e := t.m.lookup(key)
	if e == nil || e.kind != kindZSet || rank < 0 || rank >= int64(len(e.zset)) {
		return 0, false
	}
	scores := make([]float64, 0, len(e.zset))
	for _, s := range e.zset {
		scores = append(scores, s)
	}
	sort.Float64s(scores)
	return scores[rank], true
}

func (t memTx) PExpire(key string, ttl time.Duration) bool {
	e := t.m.lookup(key)
	if e == nil {
		return false
	}
	if ttl <= 0 {
		delete(t.m.data, key)
		return true
	}
	e.expireAt = t.m.clock.Now().Add(ttl)
	return true
}
