package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteStore struct {
	db   *sql.DB
	q    sqlQuerier
	inTx bool
	sb   sq.StatementBuilderType
}

// OpenSQLite opens a single-connection SQLite store. Transactions start with
// BEGIN IMMEDIATE so writers serialize.
func OpenSQLite(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &sqliteStore{db: db, q: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func (s *sqliteStore) Count(ctx context.Context, table string, filters Filters) (int, error) {
	b := s.sb.Select("COUNT(*)").From(table)
	if filters != nil {
		b = b.Where(filters)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *sqliteStore) Select(ctx context.Context, table string, filters Filters, orderBy ...string) ([]Row, error) {
	b := s.sb.Select("*").From(table).OrderBy(orderBy...)
	if filters != nil {
		b = b.Where(filters)
	}
	out, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

func (s *sqliteStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	out, err := s.query(ctx, s.sb.Insert(table).SetMap(sqliteValues(row)).Suffix("RETURNING *"))
	if err != nil {
		return nil, sqliteWriteError(table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return out[0], nil
}

func (s *sqliteStore) Update(ctx context.Context, table string, filters Filters, patch Row) (Row, error) {
	b := s.sb.Update(table).SetMap(sqliteValues(patch)).Suffix("RETURNING *")
	if filters != nil {
		b = b.Where(filters)
	}
	out, err := s.query(ctx, b)
	if err != nil {
		return nil, sqliteWriteError(table, err)
	}
	if len(out) == 0 {
		return nil, errRecordNotFound
	}
	return out[0], nil
}

func (s *sqliteStore) WithinTx(ctx context.Context, _ string, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteStore{db: s.db, q: tx, inTx: true, sb: s.sb}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) query(ctx context.Context, q sq.Sqlizer) ([]Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Fixed width so text order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteValues stores times and JSON as text.
func sqliteValues(row Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case time.Time:
			out[k] = t.UTC().Format(sqliteTimeLayout)
		case []byte:
			out[k] = string(t)
		default:
			out[k] = v
		}
	}
	return out
}

func sqliteWriteError(table string, err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return wrapError(KindConflict, "duplicate "+table+" record", err)
		}
	}
	return fmt.Errorf("write %s: %w", table, err)
}
