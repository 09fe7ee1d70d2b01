package httpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchemaOnlyServer(t *testing.T) *Server {
	t.Helper()
	schema, err := compileExportRequestSchema()
	require.NoError(t, err)
	return &Server{exportRequestSchema: schema}
}

func TestValidateExportRequestRejectsMissingYear(t *testing.T) {
	s := newSchemaOnlyServer(t)
	field, err := s.validateExportRequest([]byte(`{"filters":{},"options":{}}`))
	require.Error(t, err)
	assert.Equal(t, "filters", field)
}

func TestValidateExportRequestRejectsBadFormat(t *testing.T) {
	s := newSchemaOnlyServer(t)
	_, err := s.validateExportRequest([]byte(`{"filters":{"year":1403},"options":{"format":"pdf"}}`))
	assert.Error(t, err)
}

func TestValidateExportRequestAcceptsWellFormedBody(t *testing.T) {
	s := newSchemaOnlyServer(t)
	field, err := s.validateExportRequest([]byte(`{"filters":{"year":1403,"center":1},"options":{"chunk_size":500,"format":"xlsx"}}`))
	require.NoError(t, err)
	assert.Empty(t, field)
}
