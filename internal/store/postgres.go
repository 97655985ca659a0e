package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"phonesync/api/internal/docsync"
)

// PostgresStore keeps the chat document in chat_documents, one row per chat.
type PostgresStore struct {
	db     *sql.DB
	chatID string
}

func NewPostgresStore(db *sql.DB, chatID string) *PostgresStore {
	return &PostgresStore{db: db, chatID: chatID}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// DocumentText returns the stored buffer; a chat that was never written reads as empty.
func (s *PostgresStore) DocumentText(ctx context.Context) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM chat_documents WHERE chat_id = $1`, s.chatID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load chat document: %w", err)
	}
	return body, nil
}

func (s *PostgresStore) SetDocumentText(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_documents (chat_id, body, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (chat_id) DO UPDATE
		SET body = EXCLUDED.body,
			version = chat_documents.version + 1,
			updated_at = NOW()
	`, s.chatID, text)
	if err != nil {
		return fmt.Errorf("save chat document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Version(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM chat_documents WHERE chat_id = $1`, s.chatID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load chat document version: %w", err)
	}
	return version, nil
}

// Record appends the revision to chat_revisions.
func (s *PostgresStore) Record(ctx context.Context, rev docsync.Revision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_revisions (chat_id, body, source, new_threads, new_replies, new_subreplies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.chatID, rev.Text, string(rev.Source), rev.Stats.NewThreads, rev.Stats.NewReplies, rev.Stats.NewSubReplies, rev.At)
	if err != nil {
		return fmt.Errorf("insert chat revision: %w", err)
	}
	return nil
}

// Revisions lists the newest revisions first, without their bodies.
func (s *PostgresStore) Revisions(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, source, new_threads, new_replies, new_subreplies, created_at
		FROM chat_revisions
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, s.chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat revisions: %w", err)
	}
	defer rows.Close()

	revisions := make([]Revision, 0)
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Source, &r.NewThreads, &r.NewReplies, &r.NewSubReplies, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat revision: %w", err)
		}
		revisions = append(revisions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat revisions: %w", err)
	}
	return revisions, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
