package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DataSource fetches the raw rows matching filters. This is the entire
// database-access contract the exporter depends on.
type DataSource interface {
	FetchRows(ctx context.Context, filters Filters) ([]Row, error)
}

// MemoryDataSource is a static, in-memory reference implementation for
// tests and offline tooling.
type MemoryDataSource struct {
	Rows []Row
}

func (m *MemoryDataSource) FetchRows(_ context.Context, filters Filters) ([]Row, error) {
	out := make([]Row, 0, len(m.Rows))
	for _, r := range m.Rows {
		if filters.Center != nil && r.RegCenter != *filters.Center {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// PostgresDataSource fetches rows from a `sabt_export_rows` view/table
// over plain database/sql + lib/pq.
type PostgresDataSource struct {
	db *sql.DB
}

// NewPostgresDataSource wraps an existing *sql.DB opened with the "postgres"
// driver (lib/pq).
func NewPostgresDataSource(db *sql.DB) *PostgresDataSource {
	return &PostgresDataSource{db: db}
}

func (p *PostgresDataSource) FetchRows(ctx context.Context, filters Filters) ([]Row, error) {
	query := `SELECT national_id, counter, first_name, last_name, gender, mobile,
		reg_center, reg_status, group_code, student_type, school_code,
		mentor_id, mentor_name, mentor_mobile, allocation_date, year_code
		FROM sabt_export_rows WHERE year_code = $1 AND ($2::int IS NULL OR reg_center = $2)`

	var center any
	if filters.Center != nil {
		center = *filters.Center
	}

	rows, err := p.db.QueryContext(ctx, query, fmt.Sprintf("%d", filters.Year), center)
	if err != nil {
		return nil, fmt.Errorf("export: postgres fetch rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.NationalID, &r.Counter, &r.FirstName, &r.LastName, &r.Gender,
			&r.Mobile, &r.RegCenter, &r.RegStatus, &r.GroupCode, &r.StudentType, &r.SchoolCode,
			&r.MentorID, &r.MentorName, &r.MentorMobile, &r.AllocationDate, &r.YearCode); err != nil {
			return nil, fmt.Errorf("export: postgres scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SQLiteDataSource is the test-environment sibling of PostgresDataSource:
// production runs against Postgres, integration tests against
// modernc.org/sqlite so no cgo toolchain is required.
type SQLiteDataSource struct {
	db *sql.DB
}

// NewSQLiteDataSource wraps an existing *sql.DB opened with the "sqlite"
// driver (modernc.org/sqlite).
func NewSQLiteDataSource(db *sql.DB) *SQLiteDataSource {
	return &SQLiteDataSource{db: db}
}

func (s *SQLiteDataSource) FetchRows(ctx context.Context, filters Filters) ([]Row, error) {
	query := `SELECT national_id, counter, first_name, last_name, gender, mobile,
		reg_center, reg_status, group_code, student_type, school_code,
		mentor_id, mentor_name, mentor_mobile, allocation_date, year_code
		FROM sabt_export_rows WHERE year_code = ?`
	args := []any{fmt.Sprintf("%d", filters.Year)}
	if filters.Center != nil {
		query += " AND reg_center = ?"
		args = append(args, *filters.Center)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("export: sqlite fetch rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.NationalID, &r.Counter, &r.FirstName, &r.LastName, &r.Gender,
			&r.Mobile, &r.RegCenter, &r.RegStatus, &r.GroupCode, &r.StudentType, &r.SchoolCode,
			&r.MentorID, &r.MentorName, &r.MentorMobile, &r.AllocationDate, &r.YearCode); err != nil {
			return nil, fmt.Errorf("export: sqlite scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
