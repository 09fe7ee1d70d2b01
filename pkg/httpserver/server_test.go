package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/export"
	"github.com/sabt-export/core/pkg/exportjob"
	"github.com/sabt-export/core/pkg/httpmw"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/probes"
	"github.com/sabt-export/core/pkg/signing"
)

type fakeRoster struct{}

func (fakeRoster) IsSpecial(int, string) bool { return false }

func sampleRow(nationalID string) export.Row {
	return export.Row{
		NationalID: nationalID, Counter: "993730001", FirstName: "Sara", LastName: "Ahmadi",
		Gender: 0, Mobile: "09123456789", RegCenter: 1, RegStatus: 1, GroupCode: "G1",
		StudentType: 0, SchoolCode: "123456", MentorID: "9001", MentorName: "Mentor One",
		MentorMobile: "09120000000", AllocationDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		YearCode: "1403",
	}
}

const testToken = "test-token-0123456789"

func newTestServer(t *testing.T, rows []export.Row) *Server {
	t.Helper()

	dir := t.TempDir()
	frozen, err := clock.NewFrozen(time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	reg := metrics.New("httpserver_test")
	store := kv.NewMemory("httpserver_test", frozen)
	ds := &export.MemoryDataSource{Rows: rows}
	pipeline := export.NewPipeline(ds, fakeRoster{}, frozen, reg, dir)
	runner := exportjob.NewRunner(store, frozen, reg, pipeline)

	keys := signing.NewKeySet(signing.Key{Kid: "k1", Secret: "super-secret-test-key"})
	signer := signing.NewSigner(keys, frozen, reg)

	agg := probes.NewAggregator(reg, probes.KVStoreProbe{Name: "kv", Store: store})

	tokens := httpmw.NewTokenRegistry()
	tokens.RegisterStatic(testToken, httpmw.StaticPrincipal{Role: "operator"})

	srv := NewServer(runner, signer, agg, reg, frozen, store, tokens, dir)
	srv.DownloadDir = dir
	return srv
}

func authedRequest(method, target string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+testToken)
	r.Header.Set("Idempotency-Key", "idem-"+method+"-"+target)
	return r
}

func TestHandleAPIJobsReportsMiddlewareChain(t *testing.T) {
	srv := newTestServer(t, []export.Row{sampleRow("0011112222")})
	handler := srv.Handler()

	req := authedRequest(http.MethodPost, "/api/jobs", []byte(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["processed"])
	assert.NotEmpty(t, body["correlation_id"])
	chain, ok := body["middleware_chain"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"RateLimit", "Idempotency", "Auth"}, chain)
}

func TestExportsSubmitAndFetchReachesSuccess(t *testing.T) {
	srv := newTestServer(t, []export.Row{sampleRow("0011112222")})
	handler := srv.Handler()

	reqBody := []byte(`{"filters":{"year":1403},"options":{"format":"csv","chunk_size":10}}`)
	req := authedRequest(http.MethodPost, "/exports", reqBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job exportjob.ExportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)

	_, err := srv.Runner.Wait(context.Background(), job.ID)
	require.NoError(t, err)

	getReq := httptest.NewRequest(http.MethodGet, "/exports/"+job.ID, nil)
	getReq.Header.Set("Authorization", "Bearer "+testToken)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	var fetched exportjob.ExportJob
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	assert.Equal(t, exportjob.StatusSuccess, fetched.Status)
	require.NotNil(t, fetched.Manifest)
	assert.Equal(t, 1, fetched.Manifest.TotalRows)
}

func TestExportsDuplicateSubmitReplaysFirstResponse(t *testing.T) {
	srv := newTestServer(t, []export.Row{sampleRow("0011112222")})
	handler := srv.Handler()

	reqBody := []byte(`{"filters":{"year":1403},"options":{"format":"csv"}}`)

	first := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(reqBody))
	first.Header.Set("Authorization", "Bearer "+testToken)
	first.Header.Set("Idempotency-Key", "shared-key")
	firstRec := httptest.NewRecorder()
	handler.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusAccepted, firstRec.Code)

	// A duplicate key never reaches the handler again: the idempotency
	// middleware replays the first response byte-identically.
	second := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(reqBody))
	second.Header.Set("Authorization", "Bearer "+testToken)
	second.Header.Set("Idempotency-Key", "shared-key")
	secondRec := httptest.NewRecorder()
	handler.ServeHTTP(secondRec, second)

	assert.Equal(t, http.StatusAccepted, secondRec.Code)
	assert.Equal(t, firstRec.Body.Bytes(), secondRec.Body.Bytes())
}

func TestHandleDownloadStreamsSignedFile(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	require.NoError(t, writeTestFile(srv.DownloadDir, "report.csv", "a,b,c\n"))

	signed, err := srv.Signer.Issue("/report.csv", nil, nil)
	require.NoError(t, err)

	target := "/download?signed=" + signed.Signed + "&kid=" + signed.Kid +
		"&exp=" + itoaInt64(signed.Exp) + "&sig=" + signed.Sig

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,b,c\n", rec.Body.String())
}

func TestHandleDownloadRejectsForgedSignature(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	require.NoError(t, writeTestFile(srv.DownloadDir, "report.csv", "a,b,c\n"))

	signed, err := srv.Signer.Issue("/report.csv", nil, nil)
	require.NoError(t, err)

	target := "/download?signed=" + signed.Signed + "&kid=" + signed.Kid +
		"&exp=" + itoaInt64(signed.Exp) + "&sig=deadbeef"

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHealthzAndReadyz(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	healthReq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	healthRec := httptest.NewRecorder()
	handler.ServeHTTP(healthRec, healthReq)
	assert.Equal(t, http.StatusOK, healthRec.Code)

	readyReq := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	readyRec := httptest.NewRecorder()
	handler.ServeHTTP(readyRec, readyReq)
	assert.Equal(t, http.StatusOK, readyRec.Code)
}

func writeTestFile(dir, name, contents string) error {
	return os.WriteFile(dir+"/"+name, []byte(contents), 0o644)
}

func itoaInt64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestHandlerRecordsRequestMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics.RequestTotal(http.MethodGet, "/healthz", "200")))
}
