// Package docsync keeps the forum section of the chat's first message in step with
// freshly generated content. It reads the buffer, merges, and writes it back, deferring
// to the insertion queue while the host is generating.
package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"phonesync/api/internal/markup"
	"phonesync/api/internal/merge"
	"phonesync/api/internal/notify"
	"phonesync/api/internal/queue"
)

var (
	ErrReadFailed  = errors.New("read chat document")
	ErrWriteFailed = errors.New("write chat document")
)

// ChatStore is the shared buffer, normally the first message of the chat.
type ChatStore interface {
	DocumentText(ctx context.Context) (string, error)
	SetDocumentText(ctx context.Context, text string) error
}

type Gate interface {
	IsBusy() bool
	WaitUntilIdle(ctx context.Context, timeout time.Duration) bool
}

// Revision describes one successful write.
type Revision struct {
	Text     string
	Document markup.Document
	Stats    merge.Stats
	Source   Source
	At       time.Time
}

// Recorder receives every revision after it is written: history, archive, search.
// Failures are logged and never undo the write.
type Recorder interface {
	Record(ctx context.Context, rev Revision) error
}

type RecorderFunc func(ctx context.Context, rev Revision) error

func (f RecorderFunc) Record(ctx context.Context, rev Revision) error {
	return f(ctx, rev)
}

// Metrics is implemented by the prometheus collectors.
type Metrics interface {
	ObserveApply(source string, stats merge.Stats, err error, elapsed time.Duration)
	ObserveInsert(kind string)
}

type Source string

const (
	SourceDirect Source = "direct"
	SourceForced Source = "forced"
	SourceQueue  Source = "queue"
)

type ResultKind string

const (
	ResultApplied ResultKind = "applied"
	ResultQueued  ResultKind = "queued"
	ResultIgnored ResultKind = "ignored"
)

type Result struct {
	Kind  ResultKind  `json:"kind"`
	Stats merge.Stats `json:"stats"`
	Item  *queue.Item `json:"item,omitempty"`
}

type InsertOptions struct {
	// Force writes even when the host is still generating once WaitTimeout is spent.
	Force bool
	// WaitTimeout is how long to wait for the host to go idle before queueing.
	WaitTimeout time.Duration
}

type Options struct {
	Logger        *zap.Logger
	Notifier      notify.Notifier
	Recorders     []Recorder
	Metrics       Metrics
	DrainInterval time.Duration
	QueueMax      int
	QueueHooks    queue.Hooks
	Now           func() time.Time
}

type Service struct {
	store     ChatStore
	gate      Gate
	queue     *queue.Queue
	logger    *zap.Logger
	notifier  notify.Notifier
	recorders []Recorder
	metrics   Metrics
	now       func() time.Time

	// writeMu serializes read-merge-write cycles issued by this process.
	writeMu sync.Mutex
}

func New(store ChatStore, gate Gate, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		store:     store,
		gate:      gate,
		logger:    opts.Logger,
		notifier:  opts.Notifier,
		recorders: opts.Recorders,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}

	hooks := opts.QueueHooks
	failed := hooks.Failed
	hooks.Failed = func(item queue.Item, err error) {
		s.notifier.Notify("Queued content could not be written and was dropped", notify.LevelError)
		if failed != nil {
			failed(item, err)
		}
	}
	evicted := hooks.Evicted
	hooks.Evicted = func(item queue.Item) {
		s.notifier.Notify("Insertion queue is full; the oldest pending content was dropped", notify.LevelWarning)
		if evicted != nil {
			evicted(item)
		}
	}
	s.queue = queue.New(gate, s.applyQueued, queue.Options{
		DrainInterval: opts.DrainInterval,
		MaxSize:       opts.QueueMax,
		Logger:        opts.Logger.Named("queue"),
		Hooks:         hooks,
		Now:           opts.Now,
	})
	return s
}

// Insert merges content into the buffer now, or queues it while the host is busy.
func (s *Service) Insert(ctx context.Context, content string, opts InsertOptions) (Result, error) {
	incoming := markup.ParseSection(content)
	if incoming.IsEmpty() {
		s.logger.Debug("insert ignored, no records in content")
		s.observeInsert(ResultIgnored)
		return Result{Kind: ResultIgnored}, nil
	}

	source := SourceDirect
	if s.gate != nil && s.gate.IsBusy() {
		idle := opts.WaitTimeout > 0 && s.gate.WaitUntilIdle(ctx, opts.WaitTimeout)
		if !idle {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			if !opts.Force {
				item, err := s.queue.Enqueue(content)
				if err != nil {
					return Result{}, fmt.Errorf("queue insertion: %w", err)
				}
				s.notifier.Notify(fmt.Sprintf("Host is generating; content queued (%d pending)", s.queue.Len()), notify.LevelInfo)
				s.observeInsert(ResultQueued)
				return Result{Kind: ResultQueued, Item: &item}, nil
			}
			source = SourceForced
			s.logger.Warn("forcing write while host is generating")
		}
	}

	stats, err := s.apply(ctx, incoming, source)
	if err != nil {
		s.notifier.Notify("Content could not be written to the chat", notify.LevelError)
		return Result{}, err
	}
	s.notifier.Notify(summary(stats), notify.LevelSuccess)
	s.observeInsert(ResultApplied)
	return Result{Kind: ResultApplied, Stats: stats}, nil
}

// Apply merges content into the buffer immediately, ignoring the gate.
func (s *Service) Apply(ctx context.Context, content string) (merge.Stats, error) {
	return s.apply(ctx, markup.ParseSection(content), SourceForced)
}

func (s *Service) applyQueued(ctx context.Context, item queue.Item) error {
	stats, err := s.apply(ctx, markup.ParseSection(item.Payload), SourceQueue)
	if err != nil {
		return err
	}
	s.notifier.Notify("Queued content written: "+summary(stats), notify.LevelSuccess)
	return nil
}

func (s *Service) apply(ctx context.Context, incoming markup.Document, source Source) (stats merge.Stats, err error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveApply(string(source), stats, err, time.Since(started))
		}
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.store.DocumentText(ctx)
	if err != nil {
		return merge.Stats{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	section := markup.SplitSection(current)
	existing := markup.Parse(section.Body)

	now := s.now().UTC()
	merged, stats := merge.MergeWithStats(existing, incoming, now)
	next := section.Join(markup.Serialize(merged))
	if next == current {
		s.logger.Debug("merge produced no change", zap.String("source", string(source)))
		return stats, nil
	}

	if err := s.store.SetDocumentText(ctx, next); err != nil {
		return merge.Stats{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	s.logger.Info("chat document updated",
		zap.String("source", string(source)),
		zap.Int("new_threads", stats.NewThreads),
		zap.Int("new_replies", stats.NewReplies),
		zap.Int("new_subreplies", stats.NewSubReplies),
		zap.Int("duplicates", stats.Duplicates),
	)

	rev := Revision{Text: next, Document: merged, Stats: stats, Source: source, At: now}
	for _, r := range s.recorders {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rev); err != nil {
			s.logger.Warn("record revision", zap.Error(err))
		}
	}
	return stats, nil
}

// Document parses the current buffer.
func (s *Service) Document(ctx context.Context) (markup.Document, error) {
	text, err := s.Raw(ctx)
	if err != nil {
		return markup.Document{}, err
	}
	return markup.ParseSection(text), nil
}

func (s *Service) Raw(ctx context.Context) (string, error) {
	text, err := s.store.DocumentText(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return text, nil
}

func (s *Service) QueueStatus() queue.Status {
	return s.queue.Snapshot()
}

func (s *Service) ClearQueue() int {
	n := s.queue.Clear()
	if n > 0 {
		s.notifier.Notify(fmt.Sprintf("Discarded %d pending insertions", n), notify.LevelWarning)
	}
	return n
}

// Close stops the drain loop. Pending insertions are discarded.
func (s *Service) Close() {
	s.queue.Close()
}

func (s *Service) observeInsert(kind ResultKind) {
	if s.metrics != nil {
		s.metrics.ObserveInsert(string(kind))
	}
}

func summary(stats merge.Stats) string {
	if !stats.Changed() {
		return "No new content"
	}
	return fmt.Sprintf("Merged %d new threads, %d replies, %d sub-replies",
		stats.NewThreads, stats.NewReplies, stats.NewSubReplies)
}
