package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in SQLite. The compare-and-swap runs as a
// single UPDATE guarded by the version column, so concurrent writers
// racing on the same record resolve inside the database.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (or creates) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent CAS attempts.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing connection and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides time for tests.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, updated_at FROM records WHERE key = ?`, key)
	return scanRecord(row, key)
}

func (s *SQLiteStore) WriteIfVersion(ctx context.Context, key string, expectedVersion int64, data json.RawMessage) (*Record, error) {
	now := s.clock().UTC()
	stamp := now.Format(time.RFC3339Nano)

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO records (key, version, data, updated_at) VALUES (?, 1, ?, ?)
			 ON CONFLICT (key) DO NOTHING`,
			key, string(data), stamp)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE records SET version = version + 1, data = ?, updated_at = ?
			 WHERE key = ? AND version = ?`,
			string(data), stamp, key, expectedVersion)
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

func (s *SQLiteStore) currentVersion(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM records WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
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

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
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

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, key string) (*Record, error) {
	var (
		rec   Record
		data  string
		stamp string
	)
	err := row.Scan(&rec.Key, &rec.Version, &data, &stamp)
	if err == sql.ErrNoRows {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %q: %w", key, err)
	}
	rec.Data = json.RawMessage(data)
	if t, perr := time.Parse(time.RFC3339Nano, stamp); perr == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func likePrefix(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		switch r {
		case '%', '_', '\\':
			escaped += `\` + string(r)
		default:
			escaped += string(r)
		}
	}
	return escaped + "%"
}
