package httpmw

import (
	"net/http"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

// Chain assembles the full RateLimit -> Idempotency -> Auth -> handler
// pipeline, with correlation-id establishment as the outermost layer.
func Chain(rlStore kv.Store, registry *TokenRegistry, clk clock.Clock, reg *metrics.Registry, rlCfg RateLimitConfig, handler http.Handler) http.Handler {
	wrapped := RateLimit(rlStore, clk, reg, rlCfg)(
		Idempotency(rlStore, clk, reg)(
			Auth(registry, clk, reg)(handler),
		),
	)
	return correlationAndChain(wrapped)
}
