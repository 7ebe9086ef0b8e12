package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/artifactchat/pkg/contracts"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// SQLiteQueue is a durable transport backed by a single SQLite table.
// Messages are claimed on Pop and deleted on Ack; claims left behind by a
// crashed process are released when the queue is reopened.
type SQLiteQueue struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the queue database at path. Pass ":memory:"
// for an in-memory database (used by tests).
func OpenSQLite(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging queue database: %w", err)
	}

	// Single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	q := &SQLiteQueue{db: db}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating queue database: %w", err)
	}

	res, err := db.Exec(`UPDATE queue_messages SET state = 'pending', claimed_at = NULL WHERE state = 'claimed'`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("releasing stale claims: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Warn().Int64("released", n).Msg("Released stale queue claims")
	}
	return q, nil
}

func (q *SQLiteQueue) migrate() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			queue       TEXT NOT NULL,
			body        BLOB NOT NULL,
			state       TEXT NOT NULL DEFAULT 'pending',
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at DATETIME NOT NULL,
			claimed_at  DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_queue_messages_pending ON queue_messages (queue, state, seq);
	`)
	return err
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) Push(ctx context.Context, queue string, body []byte) error {
	if err := checkSize(body); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (id, queue, body, enqueued_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), queue, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

func (q *SQLiteQueue) Pop(ctx context.Context, queue string) (*contracts.Message, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_messages
		SET state = 'claimed', attempts = attempts + 1, claimed_at = ?
		WHERE seq = (
			SELECT seq FROM queue_messages
			WHERE queue = ? AND state = 'pending'
			ORDER BY seq LIMIT 1
		)
		RETURNING id, body`, time.Now().UTC(), queue)

	msg := &contracts.Message{Queue: queue}
	if err := row.Scan(&msg.ID, &msg.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("pop %s: %w", queue, err)
	}
	return msg, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, msg *contracts.Message) error {
	return q.settle(ctx, msg, `DELETE FROM queue_messages WHERE id = ? AND state = 'claimed'`)
}

func (q *SQLiteQueue) Nack(ctx context.Context, msg *contracts.Message) error {
	return q.settle(ctx, msg, `UPDATE queue_messages SET state = 'pending', claimed_at = NULL WHERE id = ? AND state = 'claimed'`)
}

func (q *SQLiteQueue) settle(ctx context.Context, msg *contracts.Message, stmt string) error {
	res, err := q.db.ExecContext(ctx, stmt, msg.ID)
	if err != nil {
		return fmt.Errorf("settle message %s: %w", msg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s is not claimed", msg.ID)
	}
	return nil
}
