package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Backend with PostgreSQL full-text search over the forum_posts table.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; the database is checked by the readiness probe.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks posts with plainto_tsquery and ts_rank and builds snippets with
// ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	where := []string{"fp.fts @@ " + tsQuery}
	args := []any{q.Text}
	argN := 2

	if q.ChatID != "" {
		where = append(where, fmt.Sprintf("fp.chat_id = $%d", argN))
		args = append(args, q.ChatID)
		argN++
	}
	if q.FilterAuthor != "" {
		where = append(where, fmt.Sprintf("fp.author = $%d", argN))
		args = append(args, q.FilterAuthor)
		argN++
	}
	switch q.FilterType {
	case ResultThread:
		where = append(where, "fp.kind = 'thread'")
	case ResultReply:
		where = append(where, "fp.kind <> 'thread'")
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := "SELECT count(*) FROM forum_posts fp WHERE " + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT fp.id, fp.kind, fp.thread_id, fp.author, fp.title,
			ts_headline('simple', fp.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM forum_posts fp
		WHERE %s
		ORDER BY ts_rank(fp.fts, %s) DESC, fp.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, whereSQL, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.ThreadID, &r.Author, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultReply
		if kind == "thread" {
			r.Type = ResultThread
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// IndexPosts upserts posts in one transaction.
func (p *PgFTS) IndexPosts(ctx context.Context, chatID string, threads []ThreadRecord, replies []ReplyRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO forum_posts (id, chat_id, thread_id, kind, author, parent_author, title, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content
	`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("prepare index upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range threads {
		if _, err := stmt.ExecContext(ctx, t.ID, chatID, t.ThreadID, "thread", t.Author, "", t.Title, t.Body); err != nil {
			return fmt.Errorf("index thread %s: %w", t.ThreadID, err)
		}
	}
	for _, r := range replies {
		if _, err := stmt.ExecContext(ctx, r.ID, chatID, r.ThreadID, r.Kind, r.Author, r.ParentAuthor, r.ThreadTitle, r.Content); err != nil {
			return fmt.Errorf("index reply in %s: %w", r.ThreadID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

// LoadAllRecords returns every indexed post of a chat for a full Meilisearch reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context, chatID string) ([]ThreadRecord, []ReplyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, thread_id, kind, author, parent_author, title, content
		FROM forum_posts
		WHERE chat_id = $1
		ORDER BY created_at
	`, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer rows.Close()

	threads := make([]ThreadRecord, 0)
	replies := make([]ReplyRecord, 0)
	for rows.Next() {
		var id, threadID, kind, author, parentAuthor, title, content string
		if err := rows.Scan(&id, &threadID, &kind, &author, &parentAuthor, &title, &content); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		if kind == "thread" {
			threads = append(threads, ThreadRecord{ID: id, ChatID: chatID, ThreadID: threadID, Author: author, Title: title, Body: content})
			continue
		}
		replies = append(replies, ReplyRecord{
			ID: id, ChatID: chatID, ThreadID: threadID, ThreadTitle: title,
			Author: author, ParentAuthor: parentAuthor, Content: content, Kind: kind,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate posts: %w", err)
	}
	return threads, replies, nil
}
