package idempotency

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T, ttl time.Duration, max int) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, max, WithClock(clk.Now))
	t.Cleanup(c.Stop)
	return c, clk
}

func TestCacheExpiry(t *testing.T) {
	c, clk := newCache(t, time.Minute, 10)
	c.Set("k", Entry{Body: []byte("v"), StatusCode: 200})

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(e.Body))

	clk.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictsOldest(t *testing.T) {
	c, clk := newCache(t, time.Hour, 2)
	c.Set("a", Entry{StatusCode: 200})
	clk.Advance(time.Second)
	c.Set("b", Entry{StatusCode: 200})
	clk.Advance(time.Second)
	c.Set("c", Entry{StatusCode: 200})

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCachePrune(t *testing.T) {
	c, clk := newCache(t, time.Minute, 10)
	c.Set("old", Entry{})
	clk.Advance(50 * time.Second)
	c.Set("new", Entry{})
	clk.Advance(20 * time.Second)

	c.Prune()
	assert.Equal(t, 1, c.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(time.Minute, 1)
	c.Stop()
	assert.NotPanics(t, c.Stop)
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(*calls) + `}`))
	})
}

func send(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplays(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusOK))

	first := send(h, http.MethodPost, "/v1/invoke", "abc")
	second := send(h, http.MethodPost, "/v1/invoke", "abc")

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Empty(t, first.Header().Get(HeaderReplay))
}

func TestMiddlewareScopesKeyByPath(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusAccepted))

	send(h, http.MethodPost, "/v1/models/a/performance", "k")
	send(h, http.MethodPost, "/v1/models/b/performance", "k")
	assert.Equal(t, 2, calls)
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusOK))

	send(h, http.MethodPost, "/v1/invoke", "")
	send(h, http.MethodPost, "/v1/invoke", "")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusBadGateway))

	send(h, http.MethodPost, "/v1/invoke", "retry-me")
	rec := send(h, http.MethodPost, "/v1/invoke", "retry-me")
	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMiddlewareStoresClientErrors(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusNotFound))

	send(h, http.MethodPost, "/v1/invoke", "nf")
	rec := send(h, http.MethodPost, "/v1/invoke", "nf")
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
