package httpmw

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/normalize"
)

// TokenRegistry authenticates bearer tokens. Two token shapes are
// accepted: opaque static tokens registered directly, and signed JWTs
// whose claims carry the role.
type TokenRegistry struct {
	static    map[string]StaticPrincipal
	jwtKeyFn  jwt.Keyfunc
	metricsTokens map[string]struct{}
}

// StaticPrincipal is a pre-registered opaque-token identity.
type StaticPrincipal struct {
	Role        string
	MetricsOnly bool
}

// NewTokenRegistry builds an empty registry; use RegisterStatic,
// RegisterMetricsToken and WithJWTKeyFunc to populate it.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		static:        map[string]StaticPrincipal{},
		metricsTokens: map[string]struct{}{},
	}
}

// RegisterStatic registers an opaque bearer token.
func (tr *TokenRegistry) RegisterStatic(token string, principal StaticPrincipal) {
	tr.static[token] = principal
}

// RegisterMetricsToken registers a token accepted only on /metrics, sent
// either as X-Metrics-Token or as an Authorization bearer token.
func (tr *TokenRegistry) RegisterMetricsToken(token string) {
	tr.metricsTokens[token] = struct{}{}
}

// WithJWTKeyFunc enables JWT bearer tokens, verified with keyFn.
func (tr *TokenRegistry) WithJWTKeyFunc(keyFn jwt.Keyfunc) *TokenRegistry {
	tr.jwtKeyFn = keyFn
	return tr
}

// sabtClaims is the claim shape expected of JWT bearer tokens.
type sabtClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	MetricsOnly bool   `json:"metrics_only"`
}

type authOutcome int

const (
	authUnauthorized authOutcome = iota
	authScopeDenied
	authOK
)

// authenticate resolves a token to an Actor. allowMetrics permits tokens
// registered only for /metrics access.
func (tr *TokenRegistry) authenticate(token string, allowMetrics bool) (Actor, authOutcome) {
	if token == "" {
		return Actor{}, authUnauthorized
	}
	if principal, ok := tr.static[token]; ok {
		if principal.MetricsOnly && !allowMetrics {
			return Actor{}, authScopeDenied
		}
		return Actor{Role: principal.Role, MetricsOnly: principal.MetricsOnly, TokenFingerprint: fingerprint(token)}, authOK
	}
	if _, ok := tr.metricsTokens[token]; ok {
		if !allowMetrics {
			return Actor{}, authScopeDenied
		}
		return Actor{Role: "metrics", MetricsOnly: true, TokenFingerprint: fingerprint(token)}, authOK
	}
	if tr.jwtKeyFn != nil {
		claims := &sabtClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, tr.jwtKeyFn)
		if err == nil && parsed.Valid {
			if claims.MetricsOnly && !allowMetrics {
				return Actor{}, authScopeDenied
			}
			return Actor{Role: claims.Role, MetricsOnly: claims.MetricsOnly, TokenFingerprint: fingerprint(token)}, authOK
		}
	}
	return Actor{}, authUnauthorized
}

func fingerprint(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}

func hasControlChar(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func normalizeToken(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return normalize.Text(trimmed)
}

// Auth is the innermost stage of the chain, authenticating the caller
// before the handler runs. Bypass: /healthz, /readyz, /download (downloads
// self-authenticate via signed URLs, pkg/signing).
func Auth(registry *TokenRegistry, clk clock.Clock, reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clk.Now()
			defer func() {
				if reg != nil {
					reg.AuthLatency().Observe(clk.Now().Sub(start).Seconds())
				}
			}()

			if isAuthBypass(r.URL.Path) {
				appendChainTag(r.Context(), "Auth")
				next.ServeHTTP(w, r)
				return
			}

			allowMetrics := r.URL.Path == "/metrics"
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if allowMetrics {
				if metricsToken := r.Header.Get("X-Metrics-Token"); metricsToken != "" {
					raw = metricsToken
				}
			}

			failCode := "UNAUTHORIZED"
			if allowMetrics {
				failCode = "METRICS_TOKEN_INVALID"
			}

			if hasControlChar(raw) {
				if reg != nil {
					reg.AuthFail("malformed_token").Inc()
				}
				WriteFaError(w, http.StatusUnauthorized, failCode, msgUnauthorized)
				return
			}

			token := normalizeToken(raw)
			actor, outcome := registry.authenticate(token, allowMetrics)
			switch outcome {
			case authUnauthorized:
				if reg != nil {
					reg.AuthFail("unauthorized").Inc()
				}
				WriteFaError(w, http.StatusUnauthorized, failCode, msgUnauthorized)
				return
			case authScopeDenied:
				if reg != nil {
					reg.AuthFail("scope_denied").Inc()
				}
				WriteFaError(w, http.StatusForbidden, failCode, msgScopeDenied)
				return
			}

			if reg != nil {
				reg.AuthOK(actor.Role).Inc()
			}
			appendChainTag(r.Context(), "Auth")
			ctx := withActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
