package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	handler := &maskingHandler{next: slog.NewJSONHandler(buf, nil)}
	return slog.New(handler)
}

func TestMaskValueShortAndLong(t *testing.T) {
	assert.Equal(t, "***", MaskValue("123"))
	assert.Equal(t, "AB***YZ", MaskValue("ABCDEFYZ"))
	assert.Equal(t, "09***89", MaskValue("09123456789"))
}

func TestLoggerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.Info("allocation done", "mobile", "09123456789", "mentor_id", "4821")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "09***89", decoded["mobile"])
	assert.Equal(t, "***", decoded["mentor_id"])
}

func TestLoggerPassesThroughNonSensitive(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.Info("export started", "year", 1403)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(1403), decoded["year"])
}

func TestWithCorrelationIDAttachesField(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(&buf)
	logger := WithCorrelationID(base, "corr-1")
	logger.Info("hit")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "corr-1", decoded["correlation_id"])
}
