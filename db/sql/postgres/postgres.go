// Package postgres opens lib/pq connections and provides a kv_items backed
// cache.Store shared across processes.
package postgres

import (
	"context"
	"database/sql"
)

// OpenKVStore connects, ensures the kv_items table exists and returns a
// KVStore. The caller closes the returned *sql.DB.
func OpenKVStore(ctx context.Context, opts ...Option) (*KVStore, *sql.DB, error) {
	db, err := Open(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db, DefaultKVSchema); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewKVStore(db), db, nil
}
