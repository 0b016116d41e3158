package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/vopex/crmkit/cache"
)

// DefaultKVSchema creates the table KVStore reads and writes.
const DefaultKVSchema = `CREATE TABLE IF NOT EXISTS kv_items (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ
)`

// ErrSchemaMissing reports that DefaultKVSchema has not been applied.
var ErrSchemaMissing = errors.New("postgres: kv_items table does not exist")

var _ cache.ScanStore = (*KVStore)(nil)

// KVStore is a cache.Store shared by every process pointed at the same database.
type KVStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewKVStore wraps an existing *sql.DB connection.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value, expires_at FROM kv_items WHERE key = $1`
	var (
		value     []byte
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, translateKVError(err)
	}
	if expiresAt.Valid && !s.now().Before(expiresAt.Time) {
		const purge = `DELETE FROM kv_items WHERE key = $1 AND expires_at = $2`
		if _, err := s.db.ExecContext(ctx, purge, key, expiresAt.Time); err != nil {
			return nil, translateKVError(err)
		}
		return nil, cache.ErrNotFound
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const query = `INSERT INTO kv_items (key, value, expires_at) VALUES ($1, $2, $3)
                   ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: s.now().Add(ttl).UTC(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, value, expiresAt)
	return translateKVError(err)
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key = $1`, key)
	if err != nil {
		return translateKVError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// DeleteMany removes keys in one statement and reports how many existed.
func (s *KVStore) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return 0, translateKVError(err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Keys lists unexpired keys starting with prefix in ascending order.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT key FROM kv_items
                   WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > $2)
                   ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%", s.now().UTC())
	if err != nil {
		return nil, translateKVError(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PurgeExpired deletes every expired row.
func (s *KVStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, translateKVError(err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func translateKVError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01":
			return ErrSchemaMissing
		}
		return fmt.Errorf("postgres: %s: %w", pqErr.Code.Name(), err)
	}
	return err
}
