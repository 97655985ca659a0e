package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"phonesync/api/internal/docsync"
	"phonesync/api/internal/export"
	"phonesync/api/internal/markup"
	"phonesync/api/internal/queue"
	"phonesync/api/internal/search"
)

// MaxWait caps how long an insert request may wait for the host to go idle.
const MaxWait = time.Minute

type Synchronizer interface {
	Insert(ctx context.Context, content string, opts docsync.InsertOptions) (docsync.Result, error)
	Document(ctx context.Context) (markup.Document, error)
	Raw(ctx context.Context) (string, error)
	QueueStatus() queue.Status
	ClearQueue() int
}

type BusyReporter interface {
	IsBusy() bool
}

// GenerationMark is the writable side of a generation signal.
type GenerationMark interface {
	SetGenerating(ctx context.Context, active bool) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type History interface {
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps wires the service. Sync and Gate are required; the rest are optional and the
// matching routes answer 503 without them.
type Deps struct {
	Sync        Synchronizer
	Gate        BusyReporter
	Marks       []GenerationMark
	Store       Pinger
	History     History
	Search      Searcher
	Export      Exporter
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

type Service struct {
	sync        Synchronizer
	gate        BusyReporter
	marks       []GenerationMark
	store       Pinger
	history     History
	search      Searcher
	export      Exporter
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		sync:        deps.Sync,
		gate:        deps.Gate,
		marks:       deps.Marks,
		store:       deps.Store,
		history:     deps.History,
		search:      deps.Search,
		export:      deps.Export,
		waitTimeout: deps.WaitTimeout,
		logger:      deps.Logger,
	}
}

type InsertRequest struct {
	Content string `json:"content"`
	Force   bool   `json:"force"`
	// WaitMs overrides the configured wait; negative disables waiting.
	WaitMs *int64 `json:"waitMs"`
}

func (s *Service) Insert(ctx context.Context, req InsertRequest) (docsync.Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return docsync.Result{}, invalidField("content", "content is required")
	}
	wait := s.waitTimeout
	if req.WaitMs != nil {
		wait = time.Duration(*req.WaitMs) * time.Millisecond
	}
	wait = min(max(wait, 0), MaxWait)
	return s.sync.Insert(ctx, req.Content, docsync.InsertOptions{Force: req.Force, WaitTimeout: wait})
}

// ForumThread is a thread with its replies, as served to the phone UI.
type ForumThread struct {
	markup.Thread
	Replies []markup.Reply `json:"replies"`
}

type Forum struct {
	Threads []ForumThread `json:"threads"`
	Busy    bool          `json:"busy"`
}

// Forum returns the current threads, most recently active first.
func (s *Service) Forum(ctx context.Context) (Forum, error) {
	doc, err := s.sync.Document(ctx)
	if err != nil {
		return Forum{}, err
	}
	ordered := markup.Ordered(doc)
	threads := make([]ForumThread, 0, len(ordered))
	for _, thread := range ordered {
		replies := doc.Replies[thread.ID]
		if replies == nil {
			replies = []markup.Reply{}
		}
		threads = append(threads, ForumThread{Thread: thread, Replies: replies})
	}
	return Forum{Threads: threads, Busy: s.gate.IsBusy()}, nil
}

func (s *Service) Raw(ctx context.Context) (string, error) {
	return s.sync.Raw(ctx)
}

func (s *Service) QueueStatus() queue.Status {
	return s.sync.QueueStatus()
}

func (s *Service) ClearQueue() int {
	return s.sync.ClearQueue()
}

type GenerationStatus struct {
	Busy bool `json:"busy"`
}

func (s *Service) Generation() GenerationStatus {
	return GenerationStatus{Busy: s.gate.IsBusy()}
}

// SetGenerating flips every writable generation signal. The first failure is returned
// after all marks were attempted.
func (s *Service) SetGenerating(ctx context.Context, active bool) (GenerationStatus, error) {
	var firstErr error
	for _, mark := range s.marks {
		if err := mark.SetGenerating(ctx, active); err != nil {
			s.logger.Warn("set generation mark", zap.Bool("active", active), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return GenerationStatus{}, firstErr
	}
	return s.Generation(), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, unavailable("search")
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, invalidField("q", "q is required")
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if s.history == nil {
		return nil, unavailable("history")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.history.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, unavailable("export")
	}
	return s.export.Export(ctx, req)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		_, err := s.sync.Raw(ctx)
		return err
	}
	return s.store.Ping(ctx)
}
