package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists records in PostgreSQL with the same guarded-UPDATE
// compare-and-swap as the SQLite store.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenPostgres connects to databaseURL and runs migrations.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing connection and runs migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides time for tests.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, updated_at FROM records WHERE key = $1`, key)

	var (
		rec  Record
		data string
	)
	err := row.Scan(&rec.Key, &rec.Version, &data, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %q: %w", key, err)
	}
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

func (s *PostgresStore) WriteIfVersion(ctx context.Context, key string, expectedVersion int64, data json.RawMessage) (*Record, error) {
	now := s.clock().UTC()

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO records (key, version, data, updated_at) VALUES ($1, 1, $2, $3)
			 ON CONFLICT (key) DO NOTHING`,
			key, string(data), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE records SET version = version + 1, data = $1, updated_at = $2
			 WHERE key = $3 AND version = $4`,
			string(data), now, key, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("write record %q: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("write record %q: %w", key, err)
	}
	if affected == 0 {
		actual, verr := s.currentVersion(ctx, key)
		if verr != nil {
			return nil, verr
		}
		return nil, conflict(key, expectedVersion, actual)
	}

	return &Record{
		Key:       key,
		Version:   expectedVersion + 1,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) currentVersion(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM records WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %q: %w", key, err)
	}
	return v, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound(key)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *PostgresStore) Close() error { return s.db.Close() }
