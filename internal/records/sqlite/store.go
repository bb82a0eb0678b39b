// Package sqlite persists eligibility records in a local SQLite file for
// single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/scholarship-crawler/internal/records"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	link       TEXT NOT NULL,
	file_name  TEXT NOT NULL DEFAULT '',
	hash       TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	min_gpa    REAL,
	grade      INTEGER,
	status     TEXT,
	start_date TEXT,
	end_date   TEXT,
	created_at TEXT NOT NULL
)`

const columns = "id, title, link, file_name, hash, content, min_gpa, grade, status, start_date, end_date, created_at"

// Store implements scholarship.RecordStore over database/sql.
// Dates are stored as YYYY-MM-DD text so comparisons are lexical.
type Store struct {
	db *sql.DB
}

var _ scholarship.RecordStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts r and returns it with its ID.
func (s *Store) Create(ctx context.Context, r scholarship.Record) (scholarship.Record, error) {
	if err := records.Validate(r); err != nil {
		return scholarship.Record{}, fmt.Errorf("create record: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO documents (title, link, file_name, hash, content, min_gpa, grade, status, start_date, end_date, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.Title, r.Link, r.FileName, r.Hash, r.Content,
		nullFloat(r.MinGPA), nullInt(r.Grade), nullStatus(r.Status),
		nullDate(r.StartDate), nullDate(r.EndDate), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return scholarship.Record{}, fmt.Errorf("insert record: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return scholarship.Record{}, fmt.Errorf("read record id: %w", err)
	}
	return r, nil
}

// Get loads one record by ID.
func (s *Store) Get(ctx context.Context, id int64) (scholarship.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM documents WHERE id = ?", id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scholarship.Record{}, fmt.Errorf("record %d: %w", id, scholarship.ErrNotFound)
	}
	if err != nil {
		return scholarship.Record{}, fmt.Errorf("select record: %w", err)
	}
	return r, nil
}

// GetByHash loads the earliest record for an attachment hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (scholarship.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM documents WHERE hash = ? ORDER BY id LIMIT 1", hash)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scholarship.Record{}, fmt.Errorf("record with hash %s: %w", hash, scholarship.ErrNotFound)
	}
	if err != nil {
		return scholarship.Record{}, fmt.Errorf("select record by hash: %w", err)
	}
	return r, nil
}

// List returns every record ordered by ID.
func (s *Store) List(ctx context.Context) ([]scholarship.Record, error) {
	return s.query(ctx, "SELECT "+columns+" FROM documents ORDER BY id")
}

// Update rewrites the mutable columns of the record with r.ID.
func (s *Store) Update(ctx context.Context, r scholarship.Record) error {
	if err := records.Validate(r); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET title=?, link=?, file_name=?, hash=?, content=?,
	min_gpa=?, grade=?, status=?, start_date=?, end_date=?
WHERE id=?`,
		r.Title, r.Link, r.FileName, r.Hash, r.Content,
		nullFloat(r.MinGPA), nullInt(r.Grade), nullStatus(r.Status),
		nullDate(r.StartDate), nullDate(r.EndDate), r.ID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %d: %w", r.ID, scholarship.ErrNotFound)
	}
	return nil
}

// Filter applies pred in SQL. NULL columns never satisfy a specified field.
func (s *Store) Filter(ctx context.Context, pred scholarship.Predicate) ([]scholarship.Record, error) {
	var (
		conds []string
		args  []any
	)
	if pred.GPA != nil {
		conds = append(conds, "min_gpa <= ?")
		args = append(args, *pred.GPA)
	}
	if pred.Grade != nil {
		conds = append(conds, "grade = ?")
		args = append(args, *pred.Grade)
	}
	if pred.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*pred.Status))
	}
	if pred.ActiveOn != nil {
		day := scholarship.DateOf(*pred.ActiveOn).Format(dateLayout)
		conds = append(conds, "(start_date IS NULL OR start_date <= ?)", "(end_date IS NULL OR end_date >= ?)")
		args = append(args, day, day)
	}
	query := "SELECT " + columns + " FROM documents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return s.query(ctx, query+" ORDER BY id", args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]scholarship.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err checked below
	var out []scholarship.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (scholarship.Record, error) {
	var (
		r                  scholarship.Record
		gpa                sql.NullFloat64
		grade              sql.NullInt64
		status, start, end sql.NullString
		created            string
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Link, &r.FileName, &r.Hash, &r.Content,
		&gpa, &grade, &status, &start, &end, &created); err != nil {
		return scholarship.Record{}, err
	}
	if gpa.Valid {
		r.MinGPA = &gpa.Float64
	}
	if grade.Valid {
		g := int(grade.Int64)
		r.Grade = &g
	}
	if status.Valid {
		if st, ok := scholarship.ParseEnrollmentStatus(status.String); ok {
			r.Status = &st
		}
	}
	r.StartDate = parseDate(start)
	r.EndDate = parseDate(end)
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = t
	}
	return r, nil
}

func parseDate(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	d, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullStatus(v *scholarship.EnrollmentStatus) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullDate(v *time.Time) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Format(dateLayout), Valid: true}
}
