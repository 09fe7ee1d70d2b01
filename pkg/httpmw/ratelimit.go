package httpmw

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

// RateLimitConfig tunes the fixed-window limiter.
type RateLimitConfig struct {
	Requests       int
	Window         time.Duration
	PenaltySeconds int
}

// DefaultRateLimitConfig is the stock tier: 60 requests per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Requests: 60, Window: time.Minute, PenaltySeconds: 30}
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit enforces a fixed-window request quota per client, keyed on
// clock.now floored to the window so every replica computes the same
// bucket name without coordination. Counting lives in the injected
// kv.Store rather than in-process, so the limit holds across horizontally
// scaled instances.
//
// RateLimit assumes an outer wrapper has already established the
// correlation id and middleware_chain accumulator in the request context
// (see Chain in chain.go); it must sit directly inside that wrapper.
func RateLimit(store kv.Store, clk clock.Clock, reg *metrics.Registry, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clk.Now()
			defer func() {
				if reg != nil {
					reg.RateLimitLatency().Observe(clk.Now().Sub(start).Seconds())
				}
			}()

			if isSharedBypass(r.URL.Path) {
				if reg != nil {
					reg.RateLimitDecision("bypass").Inc()
				}
				next.ServeHTTP(w, r)
				return
			}

			windowIdx := clk.Now().Unix() / int64(cfg.Window.Seconds())
			bucket := fmt.Sprintf("rl:%s:%d", clientKey(r), windowIdx)

			count, err := store.Incr(r.Context(), bucket, cfg.Window)
			if err != nil {
				if reg != nil {
					reg.RateLimitDecision("error").Inc()
				}
				WriteFaError(w, http.StatusInternalServerError, "RATE_LIMIT_UNAVAILABLE", "امکان بررسی محدودیت درخواست وجود ندارد.")
				return
			}

			if int(count) > cfg.Requests {
				if reg != nil {
					reg.RateLimitDecision("block").Inc()
				}
				w.Header().Set("Retry-After", strconv.Itoa(cfg.PenaltySeconds))
				WriteFaError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", msgRateLimitExceeded)
				return
			}

			if reg != nil {
				reg.RateLimitDecision("allow").Inc()
			}
			remaining := cfg.Requests - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			appendChainTag(r.Context(), "RateLimit")
			next.ServeHTTP(w, r)
		})
	}
}
