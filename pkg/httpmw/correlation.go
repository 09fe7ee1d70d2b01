// Package httpmw implements the RateLimit -> Idempotency -> Auth
// middleware chain. Everything is built against injected store/clock/
// metrics abstractions rather than process-global state, so tests can
// assemble isolated chains.
package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var (
	correlationIDKey = &contextKey{"correlation_id"}
	middlewareChainKey = &contextKey{"middleware_chain"}
	actorKey = &contextKey{"actor"}
)

// CorrelationID returns the request's correlation id, or "" if none was
// ever attached (should not happen once Chain has run).
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// chainState tracks the ordered list of middleware tags that touched a
// request, used for the /api/jobs diagnostic response and test assertions.
type chainState struct {
	tags []string
}

// MiddlewareChain returns the ordered tags recorded so far for ctx.
func MiddlewareChain(ctx context.Context) []string {
	st, _ := ctx.Value(middlewareChainKey).(*chainState)
	if st == nil {
		return nil
	}
	return append([]string(nil), st.tags...)
}

func appendChainTag(ctx context.Context, tag string) {
	st, _ := ctx.Value(middlewareChainKey).(*chainState)
	if st == nil {
		return
	}
	st.tags = append(st.tags, tag)
}

func withChainState(ctx context.Context) context.Context {
	return context.WithValue(ctx, middlewareChainKey, &chainState{})
}

// Actor is the authenticated identity attached to a request by the Auth
// middleware on success.
type Actor struct {
	Role             string
	MetricsOnly      bool
	TokenFingerprint string
}

// ActorFromContext returns the authenticated Actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

func withActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// correlationAndChain is the outermost wrapper: it establishes the
// correlation id (from X-Request-ID or a freshly minted uuid) and the
// middleware_chain accumulator, before RateLimit/Idempotency/Auth run.
func correlationAndChain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := withCorrelationID(r.Context(), id)
		ctx = withChainState(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
