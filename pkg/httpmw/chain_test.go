package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

func newTestChain(t *testing.T, rlCfg RateLimitConfig) (http.Handler, kv.Store, clock.Clock) {
	t.Helper()
	frozen, err := clock.NewFrozen(time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	store := kv.NewMemory("test", frozen)
	registry := NewTokenRegistry()
	registry.RegisterStatic("good-token", StaticPrincipal{Role: "operator"})
	registry.RegisterMetricsToken("metrics-token")
	reg := metrics.New("test_httpmw_chain")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	return Chain(store, registry, frozen, reg, rlCfg, handler), store, frozen
}

func TestChainRejectsMissingAuth(t *testing.T) {
	chain, _, _ := newTestChain(t, DefaultRateLimitConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChainAllowsAuthenticatedGet(t *testing.T) {
	chain, _, _ := newTestChain(t, DefaultRateLimitConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChainHealthzBypassesRateLimitAndIdempotency(t *testing.T) {
	chain, _, _ := newTestChain(t, RateLimitConfig{Requests: 1, Window: time.Minute, PenaltySeconds: 5})
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		chain.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestChainRateLimitBlocksOverQuota(t *testing.T) {
	chain, _, _ := newTestChain(t, RateLimitConfig{Requests: 1, Window: time.Minute, PenaltySeconds: 5})

	req1 := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req1.Header.Set("Authorization", "Bearer good-token")
	w1 := httptest.NewRecorder()
	chain.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req2.Header.Set("Authorization", "Bearer good-token")
	w2 := httptest.NewRecorder()
	chain.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "5", w2.Header().Get("Retry-After"))
}

func TestChainIdempotencyRequiresKeyOnPost(t *testing.T) {
	chain, _, _ := newTestChain(t, DefaultRateLimitConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChainIdempotencyReplaysCachedResponse(t *testing.T) {
	chain, _, _ := newTestChain(t, DefaultRateLimitConfig())

	req1 := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	req1.Header.Set("Authorization", "Bearer good-token")
	req1.Header.Set("Idempotency-Key", "abc-123")
	w1 := httptest.NewRecorder()
	chain.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	req2.Header.Set("Authorization", "Bearer good-token")
	req2.Header.Set("Idempotency-Key", "abc-123")
	w2 := httptest.NewRecorder()
	chain.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

func TestChainMetricsRequiresMetricsToken(t *testing.T) {
	chain, _, _ := newTestChain(t, DefaultRateLimitConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req2.Header.Set("X-Metrics-Token", "metrics-token")
	w2 := httptest.NewRecorder()
	chain.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}
