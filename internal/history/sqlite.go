package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store on a local SQLite database. The inactivity
// expiry policy lives here: expired threads read back as absent and are
// removed on the next sweep.
type SQLiteStore struct {
	db     *sql.DB
	expiry time.Duration
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	key        TEXT PRIMARY KEY,
	history    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS topics (
	key        TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	chat_id    INTEGER NOT NULL,
	thread_id  INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_topics_agent ON topics(agent_id);
`

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Pass expiry <= 0 to use DefaultExpiry.
func NewSQLiteStore(path string, expiry time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, expiry: expiry}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key models.ConversationKey) ([]*models.Message, error) {
	var blob []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT history, updated_at FROM threads WHERE key = ?`, key.String(),
	).Scan(&blob, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", key, err)
	}

	if time.Since(updatedAt) > s.expiry {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE key = ?`, key.String()); err != nil {
			return nil, fmt.Errorf("failed to expire thread %s: %w", key, err)
		}
		return nil, nil
	}

	var msgs []*models.Message
	if err := json.Unmarshal(blob, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", key, err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key models.ConversationKey, msgs []*models.Message) error {
	blob, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode thread %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (key, history, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET history = excluded.history, updated_at = excluded.updated_at`,
		key.String(), blob, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store thread %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key models.ConversationKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CreateTopic(ctx context.Context, topic *models.Topic) error {
	if topic == nil {
		return nil
	}
	now := time.Now().UTC()
	createdAt := topic.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (key, agent_id, chat_id, thread_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		topic.Key.String(), topic.Key.AgentID, topic.Key.ChatID, topic.Key.ThreadID,
		topic.Title, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store topic %s: %w", topic.Key, err)
	}
	return nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context, agentID string) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, chat_id, thread_id, title, created_at, updated_at
		 FROM topics WHERE (? = '' OR agent_id = ?) ORDER BY updated_at DESC`,
		agentID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var out []*models.Topic
	for rows.Next() {
		var tp models.Topic
		if err := rows.Scan(&tp.Key.AgentID, &tp.Key.ChatID, &tp.Key.ThreadID,
			&tp.Title, &tp.CreatedAt, &tp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		out = append(out, &tp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTopic(ctx context.Context, key models.ConversationKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("failed to delete topic %s: %w", key, err)
	}
	return nil
}

// PruneExpired removes threads idle longer than the expiry policy and returns
// the number removed. Intended for a periodic maintenance job.
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.expiry)
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune threads: %w", err)
	}
	return res.RowsAffected()
}
