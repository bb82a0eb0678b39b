// Package postgres persists eligibility records in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scholarship-crawler/internal/records"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements scholarship.RecordStore on a pgx pool.
type Store struct {
	pool  pool
	table string
}

var _ scholarship.RecordStore = (*Store)(nil)

const columns = "id, title, link, file_name, hash, content, min_gpa, grade, status, start_date, end_date, created_at"

// New connects to Postgres and creates the table when it does not exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the records table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL,
	link       TEXT NOT NULL,
	file_name  TEXT NOT NULL DEFAULT '',
	hash       TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	min_gpa    DOUBLE PRECISION,
	grade      INTEGER,
	status     TEXT,
	start_date DATE,
	end_date   DATE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Create inserts r and returns it with the generated ID.
func (s *Store) Create(ctx context.Context, r scholarship.Record) (scholarship.Record, error) {
	if err := records.Validate(r); err != nil {
		return scholarship.Record{}, fmt.Errorf("create record: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (title, link, file_name, hash, content, min_gpa, grade, status, start_date, end_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id`, s.table)
	args := []any{
		r.Title, r.Link, r.FileName, r.Hash, r.Content,
		r.MinGPA, r.Grade, statusArg(r.Status), r.StartDate, r.EndDate, r.CreatedAt,
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&r.ID); err != nil {
		return scholarship.Record{}, fmt.Errorf("insert record: %w", err)
	}
	return r, nil
}

// Get loads one record by ID.
func (s *Store) Get(ctx context.Context, id int64) (scholarship.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.table)
	r, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return scholarship.Record{}, fmt.Errorf("record %d: %w", id, scholarship.ErrNotFound)
	}
	if err != nil {
		return scholarship.Record{}, fmt.Errorf("select record: %w", err)
	}
	return r, nil
}

// GetByHash loads the earliest record for an attachment hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (scholarship.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE hash = $1 ORDER BY id LIMIT 1", columns, s.table)
	r, err := scanRecord(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return scholarship.Record{}, fmt.Errorf("record with hash %s: %w", hash, scholarship.ErrNotFound)
	}
	if err != nil {
		return scholarship.Record{}, fmt.Errorf("select record by hash: %w", err)
	}
	return r, nil
}

// List returns every record ordered by ID.
func (s *Store) List(ctx context.Context) ([]scholarship.Record, error) {
	return s.query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id", columns, s.table))
}

// Update rewrites the mutable columns of the record with r.ID.
func (s *Store) Update(ctx context.Context, r scholarship.Record) error {
	if err := records.Validate(r); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET title=$2, link=$3, file_name=$4, hash=$5, content=$6,
	min_gpa=$7, grade=$8, status=$9, start_date=$10, end_date=$11
WHERE id=$1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		r.ID, r.Title, r.Link, r.FileName, r.Hash, r.Content,
		r.MinGPA, r.Grade, statusArg(r.Status), r.StartDate, r.EndDate)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d: %w", r.ID, scholarship.ErrNotFound)
	}
	return nil
}

// Filter translates pred into a WHERE clause. NULL columns never satisfy a
// specified field; NULL window bounds are open.
func (s *Store) Filter(ctx context.Context, pred scholarship.Predicate) ([]scholarship.Record, error) {
	where, args := filterClause(pred)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id", columns, s.table, where)
	return s.query(ctx, query, args...)
}

func filterClause(pred scholarship.Predicate) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if pred.GPA != nil {
		conds = append(conds, "min_gpa <= "+next(*pred.GPA))
	}
	if pred.Grade != nil {
		conds = append(conds, "grade = "+next(*pred.Grade))
	}
	if pred.Status != nil {
		conds = append(conds, "status = "+next(string(*pred.Status)))
	}
	if pred.ActiveOn != nil {
		p := next(scholarship.DateOf(*pred.ActiveOn))
		conds = append(conds,
			"(start_date IS NULL OR start_date <= "+p+")",
			"(end_date IS NULL OR end_date >= "+p+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]scholarship.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []scholarship.Record
	for rows.Next() {
		r, err := scanRecord(rows)
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

func scanRecord(row pgx.Row) (scholarship.Record, error) {
	var (
		r      scholarship.Record
		status *string
	)
	err := row.Scan(&r.ID, &r.Title, &r.Link, &r.FileName, &r.Hash, &r.Content,
		&r.MinGPA, &r.Grade, &status, &r.StartDate, &r.EndDate, &r.CreatedAt)
	if err != nil {
		return scholarship.Record{}, err
	}
	if status != nil {
		if st, ok := scholarship.ParseEnrollmentStatus(*status); ok {
			r.Status = &st
		}
	}
	return r, nil
}

func statusArg(s *scholarship.EnrollmentStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
