package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

/* ===================== CONNECT ===================== */

const connectWindow = 30 * time.Second

// MustDB connects to Postgres, retrying while the database comes up. It exits
// the process if no connection succeeds within connectWindow or ctx ends.
func MustDB(ctx context.Context, url string, maxConns int32) *pgxpool.Pool {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		log.Fatalf("parse DATABASE_URL: %v", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	deadline := time.Now().Add(connectWindow)
	for attempt := 1; ; attempt++ {
		pool, err := connect(ctx, cfg)
		if err == nil {
			return pool
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			log.Fatalf("failed to connect DB after %d attempts: %v", attempt, err)
		}
		log.Printf("db not ready (attempt %d): %v", attempt, err)
		time.Sleep(time.Second)
	}
}

func connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

/* ===================== SQUIRREL HELPERS ===================== */

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func qExec(ctx context.Context, db pgQuerier, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Exec(ctx, sql, args...)
}

func qQuery(ctx context.Context, db pgQuerier, q sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, args...)
}

func qRow(ctx context.Context, db pgQuerier, q sq.Sqlizer) pgx.Row {
	sql, args, err := q.ToSql()
	if err != nil {
		return errRow{err}
	}
	return db.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

/* ===================== POSTGRES STORE ===================== */

type pgStore struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
	sb   sq.StatementBuilderType
}

// NewPostgresStore serves the record store from a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		pool: pool,
		q:    pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *pgStore) Count(ctx context.Context, table string, filters Filters) (int, error) {
	b := s.sb.Select("COUNT(*)").From(table)
	if filters != nil {
		b = b.Where(filters)
	}
	var n int
	if err := qRow(ctx, s.q, b).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *pgStore) Select(ctx context.Context, table string, filters Filters, orderBy ...string) ([]Row, error) {
	b := s.sb.Select("*").From(table).OrderBy(orderBy...)
	if filters != nil {
		b = b.Where(filters)
	}
	rows, err := qQuery(ctx, s.q, b)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	out, err := collectPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

func (s *pgStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	b := s.sb.Insert(table).SetMap(row).Suffix("RETURNING *")
	rows, err := qQuery(ctx, s.q, b)
	if err != nil {
		return nil, pgWriteError(table, err)
	}
	out, err := collectPgRows(rows)
	if err != nil {
		return nil, pgWriteError(table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return out[0], nil
}

func (s *pgStore) Update(ctx context.Context, table string, filters Filters, patch Row) (Row, error) {
	b := s.sb.Update(table).SetMap(patch).Suffix("RETURNING *")
	if filters != nil {
		b = b.Where(filters)
	}
	rows, err := qQuery(ctx, s.q, b)
	if err != nil {
		return nil, pgWriteError(table, err)
	}
	out, err := collectPgRows(rows)
	if err != nil {
		return nil, pgWriteError(table, err)
	}
	if len(out) == 0 {
		return nil, errRecordNotFound
	}
	return out[0], nil
}

func (s *pgStore) WithinTx(ctx context.Context, lockKey string, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if lockKey != "" {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", lockKey); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
	}

	if err := fn(&pgStore{pool: s.pool, q: tx, inTx: true, sb: s.sb}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *pgStore) Close() error {
	if !s.inTx {
		s.pool.Close()
	}
	return nil
}

func collectPgRows(rows pgx.Rows) ([]Row, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, Row(m))
	}
	return out, nil
}

func pgWriteError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return wrapError(KindConflict, "duplicate "+table+" record", err)
	}
	return fmt.Errorf("write %s: %w", table, err)
}
