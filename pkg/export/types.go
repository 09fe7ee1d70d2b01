// Package export implements the deterministic CSV/XLSX writer pipeline:
// query, stable sort, chunked atomic write, and manifest generation.
// Running the pipeline twice over the same inputs produces identical file
// bytes.
package export

import "time"

// Columns is the fixed SABT_V1 column order; consumers depend on it byte
// for byte.
var Columns = []string{
	"national_id", "counter", "first_name", "last_name", "gender", "mobile",
	"reg_center", "reg_status", "group_code", "student_type", "school_code",
	"mentor_id", "mentor_name", "mentor_mobile", "allocation_date", "year_code",
}

// sensitiveColumns are always QUOTE_ALL in CSV and inline-string in XLSX.
var sensitiveColumns = map[string]struct{}{
	"national_id": {}, "counter": {}, "mobile": {}, "mentor_id": {}, "school_code": {},
}

// excelRiskyColumns always receive the formula guard regardless of content,
// since they carry free-form human names.
var excelRiskyColumns = map[string]struct{}{
	"first_name": {}, "last_name": {}, "mentor_name": {},
}

// SortKeys is the stable lexicographic sort order applied before chunking.
var SortKeys = []string{"year_code", "reg_center", "group_code", "school_code", "national_id"}

// Row is a single, pre-normalization export record as fetched from the
// data source.
type Row struct {
	NationalID     string
	Counter        string
	FirstName      string
	LastName       string
	Gender         int
	Mobile         string
	RegCenter      int
	RegStatus      int
	GroupCode      string
	StudentType    int
	SchoolCode     string
	MentorID       string
	MentorName     string
	MentorMobile   string
	AllocationDate time.Time
	YearCode       string
}

// Cells returns the row's 16 text values keyed by column name; Columns
// gives their output order. Values are returned as stored on the Row: no
// formula guard is applied here, and excelMode is not read.
func (r Row) Cells(excelMode bool) map[string]string {
	return map[string]string{
		"national_id":     r.NationalID,
		"counter":         r.Counter,
		"first_name":      r.FirstName,
		"last_name":       r.LastName,
		"gender":          itoa(r.Gender),
		"mobile":          r.Mobile,
		"reg_center":      itoa(r.RegCenter),
		"reg_status":      itoa(r.RegStatus),
		"group_code":      r.GroupCode,
		"student_type":    itoa(r.StudentType),
		"school_code":     r.SchoolCode,
		"mentor_id":       r.MentorID,
		"mentor_name":     r.MentorName,
		"mentor_mobile":   r.MentorMobile,
		"allocation_date": r.AllocationDate.UTC().Format("2006-01-02T15:04:05Z"),
		"year_code":       r.YearCode,
	}
}

func itoa(n int) string {
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

// Filters scope a query: year is mandatory, center/delta are optional
// refinements.
type Filters struct {
	Year   int
	Center *int
	Delta  *time.Time
}

// Options tune the writer. Format is "csv" or "xlsx".
type Options struct {
	ChunkSize   int
	IncludeBOM  bool
	Newline     string
	ExcelMode   bool
	OutputFormat string
}

// DefaultOptions is the production default: Excel-safe CSV with BOM and
// CRLF rows, 5000 rows per chunk.
func DefaultOptions() Options {
	return Options{ChunkSize: 5000, IncludeBOM: true, Newline: "\r\n", ExcelMode: true, OutputFormat: "csv"}
}

// Snapshot is externally supplied by the job runner (C9) so the exporter
// never decides its own point-in-time marker.
type Snapshot struct {
	Marker    string
	CreatedAt time.Time
}

// ManifestFile describes one finalized output file.
type ManifestFile struct {
	Name     string   `json:"name"`
	SHA256   string   `json:"sha256"`
	RowCount int      `json:"row_count"`
	ByteSize int64    `json:"byte_size"`
	Sheets   []string `json:"sheets,omitempty"`
}

// ManifestConfig captures the write-time knobs that affect the bytes on
// disk, recorded for downstream reproducibility checks.
type ManifestConfig struct {
	Format string `json:"format"`
	CSVBOM bool   `json:"csv_bom"`
	CRLF   bool   `json:"crlf"`
}

// ManifestMetadata is the nested metadata object of the manifest sidecar.
type ManifestMetadata struct {
	Timestamp  string         `json:"timestamp"`
	FilesOrder []string       `json:"files_order"`
	ChunkSize  int            `json:"chunk_size"`
	SortKeys   []string       `json:"sort_keys"`
	Config     ManifestConfig `json:"config"`
}

// Manifest is the sidecar JSON document written after every file exists.
type Manifest struct {
	Profile      string           `json:"profile"`
	Filters      ManifestFilters  `json:"filters"`
	Snapshot     Snapshot         `json:"snapshot"`
	GeneratedAt  time.Time        `json:"generated_at"`
	TotalRows    int              `json:"total_rows"`
	Files        []ManifestFile   `json:"files"`
	DeltaWindow  *string          `json:"delta_window,omitempty"`
	Metadata     ManifestMetadata `json:"metadata"`
	Format       string           `json:"format"`
	ExcelSafety  bool             `json:"excel_safety"`
}

// ManifestFilters is the filters sub-object serialized in the manifest.
type ManifestFilters struct {
	Year   int    `json:"year"`
	Center string `json:"center"`
	Delta  string `json:"delta,omitempty"`
}

// Profile is the fixed manifest profile identifier.
const Profile = "SABT_V1"
