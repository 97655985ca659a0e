package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"phonesync/api/internal/docsync"
)

// Service is the facade that tries Meilisearch first and falls back to the secondary
// backend.
type Service struct {
	chatID   string
	meili    Backend
	fallback Backend
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(chatID string, meili, fallback Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{chatID: chatID, meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.ChatID == "" {
		q.ChatID = s.chatID
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Record indexes the posts of a freshly written revision. The fallback is written
// synchronously; Meilisearch is fire-and-forget.
func (s *Service) Record(ctx context.Context, rev docsync.Revision) error {
	threads, replies := Records(s.chatID, rev.Document)
	if s.meili != nil && s.meili.Healthy() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.meili.IndexPosts(context.WithoutCancel(ctx), s.chatID, threads, replies); err != nil {
				s.logger.Warn("meilisearch index failed", zap.Error(err))
			}
		}()
	}
	if s.fallback == nil {
		return nil
	}
	return s.fallback.IndexPosts(ctx, s.chatID, threads, replies)
}

// Reindex pushes every post the fallback holds into Meilisearch.
func (s *Service) Reindex(ctx context.Context, load func(ctx context.Context, chatID string) ([]ThreadRecord, []ReplyRecord, error)) error {
	if s.meili == nil || !s.meili.Healthy() || load == nil {
		return nil
	}
	threads, replies, err := load(ctx, s.chatID)
	if err != nil {
		return err
	}
	return s.meili.IndexPosts(ctx, s.chatID, threads, replies)
}

// Wait blocks until in-flight background indexing finishes.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
