// Package export (continued): the orchestration pipeline tying together
// query, normalize/validate, sort, chunked write, and manifest finalize,
// with transient-failure recovery delegated to pkg/retry.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/retry"
)

// ErrEmpty is the terminal business-empty error raised when the query
// phase returns zero rows.
var ErrEmpty = errors.New("EXPORT_EMPTY")

// ErrTransient wraps a data-source error classified as retryable I/O
// (connection, timeout, filesystem).
type ErrTransient struct{ Err error }

func (e *ErrTransient) Error() string { return fmt.Sprintf("export: transient: %v", e.Err) }
func (e *ErrTransient) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	var t *ErrTransient
	return errors.As(err, &t)
}

// Pipeline wires the data source, roster provider, clock, metrics, and
// retry policy into the four-phase export run.
type Pipeline struct {
	DataSource     DataSource
	Roster         SpecialSchools
	Clock          clock.Clock
	Metrics        *metrics.Registry
	QueryPolicy    retry.Policy
	WritePolicy    retry.Policy
	OutputDir      string
	LegacyManifest bool

	// Publisher optionally mirrors the finalized files + manifest to an
	// object store after the local atomic finalize completes. Nil disables
	// publication; the local filesystem remains the sole source of truth
	// /download ever reads from either way.
	Publisher Publisher
}

// Publisher mirrors a finished export (files + manifest, all already
// atomically finalized on local disk) to a secondary store. Implementations
// must treat this as best-effort: the caller counts a Publish failure under
// export_errors_total{type="publish"} but never fails the export job itself.
type Publisher interface {
	Publish(ctx context.Context, manifest *Manifest, outputDir string) error
}

// NewPipeline builds a Pipeline with retry.DefaultPolicy tuning for both
// the query and write phases.
func NewPipeline(ds DataSource, roster SpecialSchools, clk clock.Clock, reg *metrics.Registry, outputDir string) *Pipeline {
	return &Pipeline{
		DataSource:  ds,
		Roster:      roster,
		Clock:       clk,
		Metrics:     reg,
		QueryPolicy: retry.DefaultPolicy(),
		WritePolicy: retry.DefaultPolicy(),
		OutputDir:   outputDir,
	}
}

// Run executes the full query -> normalize -> sort -> write -> finalize
// pipeline for one export job and returns the resulting manifest.
func (p *Pipeline) Run(ctx context.Context, filters Filters, opts Options, snapshot Snapshot, correlationID string) (*Manifest, error) {
	rows, err := p.query(ctx, filters, correlationID)
	if err != nil {
		return nil, err
	}

	normalized, err := p.normalizeAndValidate(rows, filters)
	if err != nil {
		return nil, err
	}

	SortRows(normalized)

	manifest, err := p.write(ctx, normalized, filters, opts, snapshot, correlationID)
	if err != nil {
		return nil, err
	}

	if p.Publisher != nil {
		if err := p.Publisher.Publish(ctx, manifest, p.OutputDir); err != nil && p.Metrics != nil {
			p.Metrics.ExportErrors("publish").Inc()
		}
	}

	return manifest, nil
}

func (p *Pipeline) observeDuration(phase string, start time.Time) {
	if p.Metrics != nil {
		p.Metrics.ExporterDuration(phase).Observe(p.Clock.Now().Sub(start).Seconds())
	}
}

func (p *Pipeline) query(ctx context.Context, filters Filters, correlationID string) ([]Row, error) {
	start := p.Clock.Now()
	defer p.observeDuration("query", start)

	rows, err := retry.Execute(ctx, func(ctx context.Context) ([]Row, error) {
		rows, err := p.DataSource.FetchRows(ctx, filters)
		if err != nil {
			return nil, &ErrTransient{Err: err}
		}
		return rows, nil
	}, p.QueryPolicy, p.Clock, p.Clock, isTransient, p.Metrics, correlationID, "export.query")
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.ExportErrors("io").Inc()
		}
		return nil, err
	}
	if len(rows) == 0 {
		if p.Metrics != nil {
			p.Metrics.ExportErrors("empty").Inc()
		}
		return nil, ErrEmpty
	}
	return rows, nil
}

func (p *Pipeline) normalizeAndValidate(rows []Row, filters Filters) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		normalized, err := Normalize(r, filters, p.Roster)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.ExportErrors("validation").Inc()
			}
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}

func centerLabel(filters Filters) string {
	if filters.Center == nil {
		return "ALL"
	}
	return fmt.Sprintf("%d", *filters.Center)
}

func (p *Pipeline) write(ctx context.Context, rows []Row, filters Filters, opts Options, snapshot Snapshot, correlationID string) (*Manifest, error) {
	start := p.Clock.Now()
	defer p.observeDuration("write", start)

	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}
	if err := cleanStaleParts(p.OutputDir); err != nil {
		return nil, err
	}

	timestamp := p.Clock.Now().UTC().Format("20060102150405")
	chunks := chunkRows(rows, opts.ChunkSize)

	files, err := retry.Execute(ctx, func(ctx context.Context) ([]ManifestFile, error) {
		if opts.OutputFormat == "xlsx" {
			return p.writeXLSX(chunks, filters, opts, timestamp)
		}
		return p.writeCSV(chunks, filters, opts, timestamp)
	}, p.WritePolicy, p.Clock, p.Clock, isTransient, p.Metrics, correlationID, "export.write")
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.ExportErrors("io").Inc()
		}
		return nil, err
	}

	finalizeStart := p.Clock.Now()
	manifest := p.buildManifest(files, filters, opts, snapshot, len(rows), timestamp)
	if err := p.writeManifest(manifest); err != nil {
		return nil, err
	}
	p.observeDuration("finalize", finalizeStart)

	if p.Metrics != nil {
		p.Metrics.ExportRows(opts.OutputFormat).Add(float64(len(rows)))
	}
	return manifest, nil
}

func chunkRows(rows []Row, chunkSize int) [][]Row {
	if chunkSize <= 0 {
		chunkSize = len(rows)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	var chunks [][]Row
	for i := 0; i < len(rows); i += chunkSize {
		end := i + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[i:end])
	}
	if len(chunks) == 0 {
		chunks = [][]Row{{}}
	}
	return chunks
}

func (p *Pipeline) writeCSV(chunks [][]Row, filters Filters, opts Options, timestamp string) ([]ManifestFile, error) {
	var files []ManifestFile
	var totalBytes int64
	for i, chunk := range chunks {
		name := fmt.Sprintf("export_SABT_V1_%d-%s_%s_%03d.csv", filters.Year, centerLabel(filters), timestamp, i+1)
		path := filepath.Join(p.OutputDir, name)
		data := renderCSV(chunk, opts)
		result, err := atomicWriteFile(path, data)
		if err != nil {
			return nil, err
		}
		totalBytes += result.ByteSize
		files = append(files, ManifestFile{Name: name, SHA256: result.SHA256, RowCount: len(chunk), ByteSize: result.ByteSize})
	}
	if p.Metrics != nil {
		p.Metrics.ExporterBytes("csv").Add(float64(totalBytes))
	}
	return files, nil
}

func (p *Pipeline) writeXLSX(chunks [][]Row, filters Filters, opts Options, timestamp string) ([]ManifestFile, error) {
	sheets := make([]xlsxSheet, 0, len(chunks))
	sheetNames := make([]string, 0, len(chunks))
	totalRows := 0
	for i, chunk := range chunks {
		sheetName := fmt.Sprintf("Sheet_%03d", i+1)
		sheets = append(sheets, sheetFromRows(sheetName, chunk, opts))
		sheetNames = append(sheetNames, sheetName)
		totalRows += len(chunk)
	}

	data, err := renderXLSX(sheets)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("export_SABT_V1_%d-%s_%s_%03d.xlsx", filters.Year, centerLabel(filters), timestamp, 1)
	path := filepath.Join(p.OutputDir, name)
	result, err := atomicWriteFile(path, data)
	if err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		p.Metrics.ExporterBytes("xlsx").Add(float64(result.ByteSize))
	}
	return []ManifestFile{{Name: name, SHA256: result.SHA256, RowCount: totalRows, ByteSize: result.ByteSize, Sheets: sheetNames}}, nil
}

func (p *Pipeline) buildManifest(files []ManifestFile, filters Filters, opts Options, snapshot Snapshot, totalRows int, timestamp string) *Manifest {
	filesOrder := make([]string, len(files))
	for i, f := range files {
		filesOrder[i] = f.Name
	}

	manifestFilters := ManifestFilters{Year: filters.Year, Center: centerLabel(filters)}
	var deltaWindow *string
	if filters.Delta != nil {
		s := filters.Delta.UTC().Format("2006-01-02T15:04:05Z")
		manifestFilters.Delta = s
		deltaWindow = &s
	}

	return &Manifest{
		Profile:     Profile,
		Filters:     manifestFilters,
		Snapshot:    snapshot,
		GeneratedAt: p.Clock.Now().UTC(),
		TotalRows:   totalRows,
		Files:       files,
		DeltaWindow: deltaWindow,
		Metadata: ManifestMetadata{
			Timestamp:  timestamp,
			FilesOrder: filesOrder,
			ChunkSize:  opts.ChunkSize,
			SortKeys:   append([]string(nil), SortKeys...),
			Config: ManifestConfig{
				Format: opts.OutputFormat,
				CSVBOM: opts.IncludeBOM,
				CRLF:   opts.Newline == "\r\n",
			},
		},
		Format:      opts.OutputFormat,
		ExcelSafety: opts.ExcelMode,
	}
}

func (p *Pipeline) writeManifest(manifest *Manifest) error {
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal manifest: %w", err)
	}
	path := filepath.Join(p.OutputDir, "export_manifest.json")
	if _, err := atomicWriteFile(path, encoded); err != nil {
		return err
	}
	if p.LegacyManifest {
		legacyName := fmt.Sprintf("manifest_%s_%s.json", manifest.Profile, manifest.Metadata.Timestamp)
		legacyPath := filepath.Join(p.OutputDir, legacyName)
		if _, err := atomicWriteFile(legacyPath, encoded); err != nil {
			return err
		}
	}
	return nil
}

// sha256Hex returns the lowercase hex SHA-256 digest of data.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
