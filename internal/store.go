package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Row is one record keyed by column name.
type Row map[string]any

// Filters narrows a query; usually sq.Eq.
type Filters = sq.Sqlizer

// Store is the record store every handler and the admission controller talk to.
type Store interface {
	Count(ctx context.Context, table string, filters Filters) (int, error)
	Select(ctx context.Context, table string, filters Filters, orderBy ...string) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to the matching rows and returns the first one.
	// It returns ErrNotFound when nothing matched.
	Update(ctx context.Context, table string, filters Filters, patch Row) (Row, error)
	// WithinTx runs fn in one transaction serialized against every other
	// transaction holding the same lockKey.
	WithinTx(ctx context.Context, lockKey string, fn func(Store) error) error
	Close() error
}

var errRecordNotFound = newError(KindNotFound, "record not found")

/* ===================== TIMEOUTS ===================== */

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on s by d. Timeouts surface as persistence errors.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{next: s, timeout: d}
}

func (s *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func timedOut(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return wrapError(KindPersistence, "store call timed out", err)
	}
	return err
}

func (s *timeoutStore) Count(ctx context.Context, table string, filters Filters) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.next.Count(ctx, table, filters)
	return n, timedOut(err)
}

func (s *timeoutStore) Select(ctx context.Context, table string, filters Filters, orderBy ...string) ([]Row, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.next.Select(ctx, table, filters, orderBy...)
	return rows, timedOut(err)
}

func (s *timeoutStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	out, err := s.next.Insert(ctx, table, row)
	return out, timedOut(err)
}

func (s *timeoutStore) Update(ctx context.Context, table string, filters Filters, patch Row) (Row, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	out, err := s.next.Update(ctx, table, filters, patch)
	return out, timedOut(err)
}

func (s *timeoutStore) WithinTx(ctx context.Context, lockKey string, fn func(Store) error) error {
	err := s.next.WithinTx(ctx, lockKey, func(tx Store) error {
		return fn(&timeoutStore{next: tx, timeout: s.timeout})
	})
	return timedOut(err)
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}

/* ===================== ROW ACCESSORS ===================== */

func (r Row) str(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) optStr(key string) *string {
	if r[key] == nil {
		return nil
	}
	s := r.str(key)
	return &s
}

func (r Row) boolean(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (r Row) integer(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (r Row) time(key string) (time.Time, error) {
	switch v := r[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("column %s: unparseable time %q", key, v)
	default:
		return time.Time{}, fmt.Errorf("column %s: unexpected time type %T", key, v)
	}
}

func (r Row) json(key string, dst any) error {
	var raw []byte
	switch v := r[key].(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("column %s: %w", key, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("column %s: %w", key, err)
	}
	return nil
}
