package checkpoint

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteCheckpointSchemaV1 = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id TEXT PRIMARY KEY,
    snapshot TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists checkpoints in a SQLite database, one JSON snapshot
// per thread row so the state schema can evolve without column churn.
type SQLiteStore struct {
	dsn string
	db  *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite checkpoint store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite checkpoint store")
	}
	s := &SQLiteStore{dsn: dsn, db: db}
	if _, err := db.Exec(sqliteCheckpointSchemaV1); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite checkpoint store")
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, threadID string) ([]byte, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query checkpoint")
	}
	return []byte(snapshot), nil
}

func (s *SQLiteStore) Put(ctx context.Context, threadID string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, snapshot, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at_ms = excluded.updated_at_ms`,
		threadID, string(snapshot), time.Now().UnixMilli(),
	)
	return errors.Wrap(err, "upsert checkpoint")
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return errors.Wrap(err, "delete checkpoint")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
