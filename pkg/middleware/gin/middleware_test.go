package ginmiddleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/keystore"
	"github.com/manenim/gateway-guard/pkg/limiter"
	"github.com/manenim/gateway-guard/pkg/lock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(limiter.NewMemoryLimiter(), nil, Options{
		Namespace: "gin",
		Limit:     limiter.Limit{Algorithm: limiter.SlidingWindow, Rate: 2, Period: time.Minute},
	}))
	router.GET("/hello", func(c *gin.Context) {
		c.String(http.StatusOK, "hello")
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Fatal("missing Retry-After")
		}
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestLocked(t *testing.T) {
	m := lock.NewManager(keystore.NewMemoryStore())
	router := gin.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	router.POST("/orders/:id", Locked(m, ParamKey("id"), LockOptions{TTL: 5 * time.Second}), func(c *gin.Context) {
		if c.Param("id") == "slow" {
			close(entered)
			<-release
		}
		c.Status(http.StatusNoContent)
	})

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/slow", nil))
		done <- rec.Code
	}()
	<-entered

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/slow", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/fast", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other key status = %d, want 204", rec.Code)
	}

	close(release)
	if code := <-done; code != http.StatusNoContent {
		t.Fatalf("holder status = %d", code)
	}
	if held, _, _ := m.Inspect(context.Background(), "slow"); held {
		t.Fatal("lock still held")
	}
}

func TestLocked_InvalidTTL(t *testing.T) {
	var logs bytes.Buffer
	m := lock.NewManager(keystore.NewMemoryStore())
	router := gin.New()
	router.POST("/orders/:id", Locked(m, ParamKey("id"), LockOptions{Logger: pslog.NewStructured(&logs)}), func(c *gin.Context) {
		t.Error("handler must not run without a lock")
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/42", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(logs.String(), "gin.locked.config") {
		t.Fatalf("misconfiguration not logged: %q", logs.String())
	}
}

func TestLocked_StoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()
	m := lock.NewManager(keystore.NewRedisStore(client))
	router := gin.New()
	router.POST("/orders/:id", Locked(m, ParamKey("id"), LockOptions{TTL: time.Second}), func(c *gin.Context) {
		t.Error("handler must not run without a lock")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/42", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestDefaultKeyFunc_SharedAcrossRequests(t *testing.T) {
	keyFunc := DefaultKeyFunc("")

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			want := fmt.Sprintf("key-%d", i)
			c.Request.Header.Set("X-API-Key", want)
			got, err := keyFunc(c)
			if err != nil || got != want {
				errs <- fmt.Errorf("request %d: key = %q, %v", i, got, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDefaultKeyFunc_Fallbacks(t *testing.T) {
	keyFunc := DefaultKeyFunc("X-Tenant")
	cases := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"custom header", map[string]string{"X-Tenant": "acme", "Authorization": "Bearer tok"}, "acme"},
		{"bearer token", map[string]string{"Authorization": "Bearer tok"}, "tok"},
		{"raw authorization", map[string]string{"Authorization": "Basic abc"}, "Basic abc"},
		{"client ip", nil, "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				c.Request.Header.Set(k, v)
			}
			got, err := keyFunc(c)
			if err != nil || got != tc.want {
				t.Fatalf("key = %q, %v, want %q", got, err, tc.want)
			}
		})
	}
}
