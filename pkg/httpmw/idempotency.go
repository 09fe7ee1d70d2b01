package httpmw

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/normalize"
)

// busyMarker is the placeholder value setnx writes while a request is being
// processed, distinguishing "no entry yet" from "a sibling request is
// currently populating this key". The NUL prefix keeps it out of the space
// of legal cached-response JSON.
const busyMarker = "\x00processing"

const idempotencyTTL = 24 * time.Hour

// cachedResponse is the JSON-serialized shape stored under idem:{key};
// MediaType rides along so replays restore the original Content-Type.
type cachedResponse struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body"`
	MediaType string            `json:"media_type"`
}

// responseCapture wraps http.ResponseWriter to capture the inner pipeline's
// response for storage.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	wroteHeader bool
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.wroteHeader = true
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.wroteHeader {
		rc.WriteHeader(http.StatusOK)
	}
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

func xHeadersOnly(h http.Header) map[string]string {
	out := map[string]string{}
	for k, vals := range h {
		if len(vals) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(k), "X-") {
			out[k] = vals[0]
		}
	}
	return out
}

func replay(w http.ResponseWriter, cached cachedResponse) {
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	if cached.MediaType != "" {
		w.Header().Set("Content-Type", cached.MediaType)
	}
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

// Idempotency enforces exactly-once semantics for POST/PUT/PATCH requests
// carrying an Idempotency-Key header. It must sit inside RateLimit and
// outside Auth in the chain (Chain in chain.go wires this).
func Idempotency(store kv.Store, clk clock.Clock, reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clk.Now()
			defer func() {
				if reg != nil {
					reg.IdempotencyLatency().Observe(clk.Now().Sub(start).Seconds())
				}
			}()

			mutating := r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch
			if !mutating || isSharedBypass(r.URL.Path) {
				appendChainTag(r.Context(), "Idempotency")
				next.ServeHTTP(w, r)
				return
			}

			key := normalize.Text(r.Header.Get("Idempotency-Key"))
			if key == "" {
				if reg != nil {
					reg.IdempotencyHits("reject").Inc()
				}
				WriteFaError(w, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", msgIdempotencyKeyRequired)
				return
			}
			storeKey := "idem:" + key

			if cached, ok, err := lookupCached(r, store, storeKey); err == nil && ok {
				if reg != nil {
					reg.IdempotencyHits("hit").Inc()
					reg.IdempotencyReplays().Inc()
				}
				replay(w, cached)
				return
			}

			acquired, err := store.SetNX(r.Context(), storeKey, busyMarker, idempotencyTTL)
			if err != nil {
				WriteFaError(w, http.StatusInternalServerError, "IDEMPOTENCY_UNAVAILABLE", "امکان بررسی کلید درخواست وجود ندارد.")
				return
			}
			if !acquired {
				// A concurrent sibling holds the key; it may have already
				// populated the cache by the time we re-read.
				if cached, ok, err := lookupCached(r, store, storeKey); err == nil && ok {
					if reg != nil {
						reg.IdempotencyHits("hit").Inc()
						reg.IdempotencyReplays().Inc()
					}
					replay(w, cached)
					return
				}
				WriteFaError(w, http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT", "درخواستی با همین Idempotency-Key در حال پردازش است.")
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			appendChainTag(r.Context(), "Idempotency")
			next.ServeHTTP(capture, r)

			cached := cachedResponse{
				Status:    capture.statusCode,
				Headers:   xHeadersOnly(capture.Header()),
				Body:      capture.body.Bytes(),
				MediaType: capture.Header().Get("Content-Type"),
			}
			if encoded, err := json.Marshal(cached); err == nil {
				_ = store.Set(r.Context(), storeKey, string(encoded), idempotencyTTL)
			}
			if reg != nil {
				reg.IdempotencyHits("miss").Inc()
			}
		})
	}
}

func lookupCached(r *http.Request, store kv.Store, storeKey string) (cachedResponse, bool, error) {
	raw, ok, err := store.Get(r.Context(), storeKey)
	if err != nil || !ok || raw == busyMarker {
		return cachedResponse{}, false, err
	}
	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return cachedResponse{}, false, nil
	}
	return cached, true, nil
}
