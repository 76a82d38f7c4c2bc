package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

func newOutbound(url string, capacity int) *OutboundClient {
	window := NewFixedWindowLimiter(capacity, time.Minute)
	return NewOutboundClient(url, "test-key", 5*time.Second, window, NewMetrics(nil), zap.NewNop())
}

func TestOutboundCallSuccess(t *testing.T) {
	var gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		json.NewEncoder(w).Encode(map[string]any{"echo": true})
	}))
	defer srv.Close()

	c := newOutbound(srv.URL, 5)
	out, err := c.Call(context.Background(), map[string]any{"test": "data"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": true}, out)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "application/json", gotCT)
}

func TestOutboundWindowExhausted(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := newOutbound(srv.URL, 1)

	_, err := c.Call(context.Background(), map[string]any{"n": float64(1)})
	require.NoError(t, err)

	// Второй вызов в том же окне: отказ до какого-либо сетевого вызова
	_, err = c.Call(context.Background(), map[string]any{"n": float64(2)})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOutboundHonorsRetryAfter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := newOutbound(srv.URL, 5)
	out, err := c.Call(context.Background(), map[string]any{"test": "data"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "после 429 ровно один повтор")
}

func TestOutboundPersistentThrottleIsTransport(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newOutbound(srv.URL, 10)
	_, err := c.Call(context.Background(), map[string]any{"test": "data"})

	// Upstream троттлит все попытки: категория — транспорт, не внутренняя ошибка
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestOutboundServerErrorAfterRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newOutbound(srv.URL, 10)
	_, err := c.Call(context.Background(), map[string]any{"test": "data"})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "три попытки — и хватит")
}
