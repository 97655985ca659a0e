package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"phonesync/api/internal/archive"
	"phonesync/api/internal/gitrepo"
	"phonesync/api/internal/markup"
	"phonesync/api/internal/store"
)

type HistoryEntry struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

// Versions resolves a history entry id to the forum it recorded.
type Versions interface {
	DocumentAt(ctx context.Context, version string) (markup.Document, error)
}

type CommitLog interface {
	History(chatID string, limit int) ([]gitrepo.CommitInfo, error)
	ForumAt(chatID, hash string) (markup.Document, error)
}

// GitHistory serves history and old versions from the per-chat git repository.
type GitHistory struct {
	Log    CommitLog
	ChatID string
}

func (g GitHistory) History(_ context.Context, limit int) ([]HistoryEntry, error) {
	commits, err := g.Log.History(g.ChatID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(commits))
	for _, c := range commits {
		source, _, _ := strings.Cut(c.Message, ":")
		entries = append(entries, HistoryEntry{
			ID:      c.Hash,
			Message: c.Message,
			Source:  source,
			At:      c.CreatedAt,
		})
	}
	return entries, nil
}

func (g GitHistory) DocumentAt(_ context.Context, version string) (markup.Document, error) {
	return g.Log.ForumAt(g.ChatID, version)
}

type RevisionLog interface {
	Revisions(ctx context.Context, limit int) ([]store.Revision, error)
}

// RevisionHistory lists the chat_revisions rows kept by the Postgres store.
type RevisionHistory struct {
	Log RevisionLog
}

func (h RevisionHistory) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	revisions, err := h.Log.Revisions(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(revisions))
	for _, rev := range revisions {
		entries = append(entries, HistoryEntry{
			ID:      strconv.FormatInt(rev.ID, 10),
			Message: revisionMessage(rev.NewThreads, rev.NewReplies, rev.NewSubReplies),
			Source:  rev.Source,
			At:      rev.CreatedAt,
		})
	}
	return entries, nil
}

type SnapshotLog interface {
	Snapshots(ctx context.Context, limit int) ([]archive.Snapshot, error)
	Text(ctx context.Context, key string) (string, error)
}

// ArchiveHistory serves history from object storage snapshots.
type ArchiveHistory struct {
	Log SnapshotLog
}

func (h ArchiveHistory) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	snapshots, err := h.Log.Snapshots(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(snapshots))
	for _, snap := range snapshots {
		entries = append(entries, HistoryEntry{
			ID:      snap.Key,
			Message: "snapshot " + snap.Key,
			Source:  snap.Source,
			At:      snap.At,
		})
	}
	return entries, nil
}

func (h ArchiveHistory) DocumentAt(ctx context.Context, version string) (markup.Document, error) {
	text, err := h.Log.Text(ctx, version)
	if err != nil {
		return markup.Document{}, err
	}
	return markup.ParseSection(text), nil
}

// ExportSource feeds the exporter from the live buffer and, for older versions, from
// whichever history backend can resolve them.
type ExportSource struct {
	Sync     Synchronizer
	Versions Versions
}

func (e ExportSource) Document(ctx context.Context) (markup.Document, error) {
	return e.Sync.Document(ctx)
}

func (e ExportSource) DocumentAt(ctx context.Context, version string) (markup.Document, error) {
	if e.Versions == nil {
		return markup.Document{}, notFound("VERSION_NOT_FOUND", "Versioned export is not available")
	}
	return e.Versions.DocumentAt(ctx, version)
}

func revisionMessage(threads, replies, subReplies int) string {
	return fmt.Sprintf("+%d threads, +%d replies, +%d sub-replies", threads, replies, subReplies)
}
