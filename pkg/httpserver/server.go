// Package httpserver wires the export job runner, signed downloads, and
// probe aggregator behind the middleware chain into the service's JSON
// endpoint set. Routing is a plain http.NewServeMux; /metrics serves the
// Prometheus registry through promhttp rather than a hand-rolled text
// exposition writer.
package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/export"
	"github.com/sabt-export/core/pkg/exportjob"
	"github.com/sabt-export/core/pkg/httpmw"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/observability"
	"github.com/sabt-export/core/pkg/probes"
	"github.com/sabt-export/core/pkg/signing"
)

// Server bundles every dependency the HTTP surface needs.
type Server struct {
	Runner   *exportjob.Runner
	Signer   *signing.Signer
	Probes   *probes.Aggregator
	Metrics  *metrics.Registry
	Clock    clock.Clock
	Logger   *slog.Logger

	RateLimitStore   kv.Store
	TokenRegistry    *httpmw.TokenRegistry
	RateLimitConfig  httpmw.RateLimitConfig

	DownloadDir             string
	DefaultNamespace        string
	HealthTimeout           time.Duration
	ReadinessTimeout        time.Duration

	exportRequestSchema *jsonschema.Schema
}

// NewServer builds a Server with 2s defaults for the two probe timeouts
// and a DefaultNamespace of "default". Panics if the bundled
// export-request JSON Schema fails to compile, since that schema is a
// static asset baked into the binary, not user input.
func NewServer(runner *exportjob.Runner, signer *signing.Signer, agg *probes.Aggregator, reg *metrics.Registry, clk clock.Clock, rlStore kv.Store, tokens *httpmw.TokenRegistry, downloadDir string) *Server {
	schema, err := compileExportRequestSchema()
	if err != nil {
		panic(err)
	}
	return &Server{
		Runner: runner, Signer: signer, Probes: agg, Metrics: reg, Clock: clk,
		RateLimitStore: rlStore, TokenRegistry: tokens, RateLimitConfig: httpmw.DefaultRateLimitConfig(),
		DownloadDir: downloadDir, DefaultNamespace: "default",
		HealthTimeout: 2 * time.Second, ReadinessTimeout: 2 * time.Second,
		exportRequestSchema: schema,
	}
}

// Handler assembles the full routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", s.handleAPIJobs)
	mux.HandleFunc("/exports", s.handleExports)
	mux.HandleFunc("/exports/", s.handleExportByID)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Prometheus(), promhttp.HandlerOpts{}))

	chained := httpmw.Chain(s.RateLimitStore, s.TokenRegistry, s.Clock, s.Metrics, s.RateLimitConfig, mux)
	return s.instrument(chained)
}

// statusRecorder captures the final response status for the request log and
// the request_total counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// instrument is the outermost wrapper: it records request_total and
// request_latency_seconds for every request regardless of how deep in the
// chain it was answered, and writes one structured access-log line carrying
// the correlation id the chain stamped onto the response.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.Clock.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := s.Clock.Now().Sub(start).Seconds()

		if s.Metrics != nil {
			s.Metrics.RequestTotal(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
			s.Metrics.RequestLatency(r.Method, r.URL.Path).Observe(elapsed)
		}
		if s.Logger != nil {
			observability.WithCorrelationID(s.Logger, rec.Header().Get("X-Request-ID")).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_seconds", elapsed,
			)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleAPIJobs is the job-runner diagnostic endpoint: it exists to make
// the middleware chain's bookkeeping observable end-to-end.
func (s *Server) handleAPIJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpmw.WriteFaError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "متد درخواست پشتیبانی نمی‌شود.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed":        true,
		"correlation_id":   httpmw.CorrelationID(r.Context()),
		"middleware_chain":  httpmw.MiddlewareChain(r.Context()),
	})
}

// exportFiltersDTO / exportOptionsDTO are the wire shapes for POST /exports,
// kept distinct from export.Filters/export.Options so the core pipeline
// types never need json tags of their own.
type exportFiltersDTO struct {
	Year   int     `json:"year"`
	Center *int    `json:"center,omitempty"`
	Delta  *string `json:"delta,omitempty"`
}

type exportOptionsDTO struct {
	ChunkSize    int    `json:"chunk_size"`
	IncludeBOM   *bool  `json:"csv_bom,omitempty"`
	Newline      string `json:"newline,omitempty"`
	ExcelMode    *bool  `json:"excel_mode,omitempty"`
	OutputFormat string `json:"format,omitempty"`
}

type exportRequest struct {
	Filters exportFiltersDTO `json:"filters"`
	Options exportOptionsDTO `json:"options"`
}

func (dto exportFiltersDTO) toFilters() (export.Filters, error) {
	f := export.Filters{Year: dto.Year, Center: dto.Center}
	if dto.Delta != nil {
		parsed, err := time.Parse(time.RFC3339, *dto.Delta)
		if err != nil {
			return export.Filters{}, errors.New("EXPORT_VALIDATION_ERROR:delta")
		}
		f.Delta = &parsed
	}
	return f, nil
}

func (dto exportOptionsDTO) toOptions() export.Options {
	opts := export.DefaultOptions()
	if dto.ChunkSize > 0 {
		opts.ChunkSize = dto.ChunkSize
	}
	if dto.IncludeBOM != nil {
		opts.IncludeBOM = *dto.IncludeBOM
	}
	if dto.Newline != "" {
		opts.Newline = dto.Newline
	}
	if dto.ExcelMode != nil {
		opts.ExcelMode = *dto.ExcelMode
	}
	if dto.OutputFormat != "" {
		opts.OutputFormat = dto.OutputFormat
	}
	return opts
}

// handleExports implements `POST /exports` (implied): it submits a new
// export job keyed by the mandatory Idempotency-Key header, already
// validated non-empty by the Idempotency middleware upstream.
func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpmw.WriteFaError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "متد درخواست پشتیبانی نمی‌شود.")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpmw.WriteFaError(w, http.StatusBadRequest, "EXPORT_REQUEST_MALFORMED", "بدنه درخواست نامعتبر است.")
		return
	}

	if field, verr := s.validateExportRequest(body); verr != nil {
		httpmw.WriteFaError(w, http.StatusBadRequest, "EXPORT_VALIDATION_ERROR:"+field, "پارامترهای درخواست خروجی نامعتبر است.")
		return
	}

	var req exportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpmw.WriteFaError(w, http.StatusBadRequest, "EXPORT_REQUEST_MALFORMED", "بدنه درخواست نامعتبر است.")
		return
	}

	filters, err := req.Filters.toFilters()
	if err != nil {
		httpmw.WriteFaError(w, http.StatusBadRequest, "EXPORT_VALIDATION_ERROR", "پارامترهای فیلتر نامعتبر است.")
		return
	}
	options := req.Options.toOptions()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	namespace := r.Header.Get("X-Namespace")
	if namespace == "" {
		namespace = s.DefaultNamespace
	}

	job, err := s.Runner.Submit(r.Context(), filters, options, idempotencyKey, namespace)
	if err != nil {
		if errors.Is(err, exportjob.ErrDuplicate) {
			httpmw.WriteFaError(w, http.StatusConflict, "EXPORT_DUPLICATE", "این درخواست پیش‌تر با همین کلید ثبت شده است.")
			return
		}
		httpmw.WriteFaError(w, http.StatusInternalServerError, "EXPORT_SUBMIT_FAILED", "ثبت درخواست خروجی با خطا مواجه شد.")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// handleExportByID implements `GET /exports/{id}`.
func (s *Server) handleExportByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpmw.WriteFaError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "متد درخواست پشتیبانی نمی‌شود.")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/exports/")
	if id == "" {
		httpmw.WriteFaError(w, http.StatusNotFound, "EXPORT_NOT_FOUND", "درخواست خروجی یافت نشد.")
		return
	}

	job, ok := s.Runner.Get(id)
	if !ok {
		httpmw.WriteFaError(w, http.StatusNotFound, "EXPORT_NOT_FOUND", "درخواست خروجی یافت نشد.")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var reservedDownloadParams = map[string]struct{}{
	"signed": {}, "kid": {}, "exp": {}, "sig": {},
}

// handleDownload implements `GET /download`: verifies the signed URL
// (pkg/signing) and streams the referenced file from DownloadDir.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpmw.WriteFaError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "متد درخواست پشتیبانی نمی‌شود.")
		return
	}

	q := r.URL.Query()
	signed := q.Get("signed")
	kid := q.Get("kid")
	expStr := q.Get("exp")
	sig := q.Get("sig")

	decoded, err := base64.RawURLEncoding.DecodeString(signed)
	if err != nil {
		httpmw.WriteFaError(w, http.StatusBadRequest, "DOWNLOAD_MALFORMED", "پیوند دانلود نامعتبر است.")
		return
	}
	path := string(decoded)

	extra := url.Values{}
	for k, v := range q {
		if _, reserved := reservedDownloadParams[k]; reserved {
			continue
		}
		extra[k] = v
	}

	outcome := s.Signer.Verify(path, kid, expStr, sig, extra)
	switch outcome {
	case signing.OutcomeOK:
		s.streamFile(w, path)
	case signing.OutcomeExpired:
		httpmw.WriteFaError(w, http.StatusGone, "DOWNLOAD_EXPIRED", "مهلت استفاده از پیوند دانلود به پایان رسیده است.")
	case signing.OutcomeUnknownKid, signing.OutcomeForged:
		httpmw.WriteFaError(w, http.StatusForbidden, "DOWNLOAD_FORBIDDEN", "پیوند دانلود معتبر نیست.")
	default:
		httpmw.WriteFaError(w, http.StatusBadRequest, "DOWNLOAD_MALFORMED", "پیوند دانلود نامعتبر است.")
	}
}

func (s *Server) streamFile(w http.ResponseWriter, relativePath string) {
	full := filepath.Join(s.DownloadDir, filepath.Clean(relativePath))
	f, err := os.Open(full)
	if err != nil {
		httpmw.WriteFaError(w, http.StatusNotFound, "DOWNLOAD_NOT_FOUND", "فایل مورد نظر یافت نشد.")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(full)+"\"")
	_, _ = io.Copy(w, f)
}

func probeStatusCode(results []probes.Result) int {
	if probes.AllHealthy(results) {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// handleHealthz implements `GET /healthz`: always 200, reporting each
// probe's component status regardless of outcome.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := s.Probes.Run(r.Context(), s.HealthTimeout)
	writeJSON(w, http.StatusOK, map[string]any{"components": results})
}

// handleReadyz implements `GET /readyz`: 200 only if every probe is
// healthy, else 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	results := s.Probes.Run(r.Context(), s.ReadinessTimeout)
	writeJSON(w, probeStatusCode(results), map[string]any{"components": results})
}
