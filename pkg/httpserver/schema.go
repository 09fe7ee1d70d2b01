package httpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// exportRequestSchemaJSON is the bundled JSON Schema every `POST /exports`
// body is validated against before filters/options ever reach the job
// runner. Compiled once at server construction; validated per request.
const exportRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["filters", "options"],
  "properties": {
    "filters": {
      "type": "object",
      "required": ["year"],
      "properties": {
        "year": {"type": "integer", "minimum": 1300, "maximum": 1500},
        "center": {"type": ["integer", "null"], "enum": [0, 1, 2, null]},
        "delta": {"type": ["string", "null"]}
      }
    },
    "options": {
      "type": "object",
      "properties": {
        "chunk_size": {"type": "integer", "minimum": 1},
        "csv_bom": {"type": "boolean"},
        "newline": {"type": "string", "enum": ["\r\n", "\n"]},
        "excel_mode": {"type": "boolean"},
        "format": {"type": "string", "enum": ["csv", "xlsx"]}
      }
    },
    "namespace": {"type": "string"}
  }
}`

const exportRequestSchemaURL = "https://sabt-export.local/schema/export_request.schema.json"

func compileExportRequestSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(exportRequestSchemaURL, strings.NewReader(exportRequestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("httpserver: load export request schema: %w", err)
	}
	return c.Compile(exportRequestSchemaURL)
}

// validateExportRequest re-decodes body as a bare map so jsonschema sees the
// wire shape (json tags, not Go field names) and validates it against
// exportRequestSchema. Returns the deepest violating location as a dotted
// field name (see schemaErrorField), or "" if the body is schema-valid.
func (s *Server) validateExportRequest(body []byte) (field string, err error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}
	if verr := s.exportRequestSchema.Validate(doc); verr != nil {
		if ve, ok := verr.(*jsonschema.ValidationError); ok {
			return schemaErrorField(ve), verr
		}
		return "", verr
	}
	return "", nil
}

// schemaErrorField descends to the deepest cause of a ValidationError and
// returns its instance location, so EXPORT_VALIDATION_ERROR:<field> names
// the actual offending field rather than just "export request".
func schemaErrorField(ve *jsonschema.ValidationError) string {
	cur := ve
	for len(cur.Causes) > 0 {
		cur = cur.Causes[0]
	}
	loc := strings.TrimPrefix(cur.InstanceLocation, "/")
	loc = strings.ReplaceAll(loc, "/", ".")
	if loc == "" {
		return "body"
	}
	return loc
}
