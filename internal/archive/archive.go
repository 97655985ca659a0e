// Package archive copies every revision of the chat document to object storage, so a
// chat that is deleted on the host can still be recovered.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"phonesync/api/internal/docsync"
)

// ObjectStore is the subset of an S3-compatible bucket the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type Snapshot struct {
	Key    string    `json:"key"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

type Archive struct {
	objects ObjectStore
	chatID  string
	logger  *zap.Logger
}

func New(objects ObjectStore, chatID string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{objects: objects, chatID: chatID, logger: logger}
}

type manifest struct {
	ChatID        string    `json:"chatId"`
	Source        string    `json:"source"`
	At            time.Time `json:"at"`
	Threads       int       `json:"threads"`
	NewThreads    int       `json:"newThreads"`
	NewReplies    int       `json:"newReplies"`
	NewSubReplies int       `json:"newSubReplies"`
}

// Record stores the buffer text and a small JSON manifest beside it.
func (a *Archive) Record(ctx context.Context, rev docsync.Revision) error {
	at := rev.At
	if at.IsZero() {
		at = time.Now()
	}
	base := a.key(at.UTC(), string(rev.Source))

	if err := a.objects.Put(ctx, base+".txt", []byte(rev.Text), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("archive revision text: %w", err)
	}
	meta, err := json.Marshal(manifest{
		ChatID:        a.chatID,
		Source:        string(rev.Source),
		At:            at.UTC(),
		Threads:       len(rev.Document.ThreadIDs()),
		NewThreads:    rev.Stats.NewThreads,
		NewReplies:    rev.Stats.NewReplies,
		NewSubReplies: rev.Stats.NewSubReplies,
	})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := a.objects.Put(ctx, base+".json", meta, "application/json"); err != nil {
		return fmt.Errorf("archive revision manifest: %w", err)
	}
	a.logger.Debug("revision archived", zap.String("key", base))
	return nil
}

// Snapshots lists archived revisions newest first.
func (a *Archive) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	keys, err := a.objects.List(ctx, a.prefix())
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	snapshots := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".txt") {
			continue
		}
		snap, ok := a.parseKey(key)
		if ok {
			snapshots = append(snapshots, snap)
		}
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].At.After(snapshots[j].At)
	})
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

// Text loads an archived buffer by key.
func (a *Archive) Text(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, a.prefix()) {
		return "", fmt.Errorf("key %q is outside chat %s", key, a.chatID)
	}
	body, err := a.objects.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load archived revision: %w", err)
	}
	return string(body), nil
}

const stampLayout = "20060102T150405.000000000Z"

func (a *Archive) prefix() string {
	return "chats/" + a.chatID + "/"
}

func (a *Archive) key(at time.Time, source string) string {
	if source == "" {
		source = "direct"
	}
	return a.prefix() + at.Format(stampLayout) + "-" + source
}

func (a *Archive) parseKey(key string) (Snapshot, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, a.prefix()), ".txt")
	stamp, source, ok := strings.Cut(name, "-")
	if !ok {
		return Snapshot{}, false
	}
	at, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{Key: key, Source: source, At: at}, true
}
