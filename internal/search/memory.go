package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a Backend that scans posts held in process. It serves the in-memory chat
// store and tests.
type Memory struct {
	mu      sync.RWMutex
	threads map[string]ThreadRecord
	replies map[string]ReplyRecord
	order   map[string]int
	next    int
}

func NewMemory() *Memory {
	return &Memory{
		threads: make(map[string]ThreadRecord),
		replies: make(map[string]ReplyRecord),
		order:   make(map[string]int),
	}
}

func (m *Memory) Healthy() bool {
	return true
}

func (m *Memory) IndexPosts(_ context.Context, _ string, threads []ThreadRecord, replies []ReplyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range threads {
		m.threads[t.ID] = t
		m.remember(t.ID)
	}
	for _, r := range replies {
		m.replies[r.ID] = r
		m.remember(r.ID)
	}
	return nil
}

func (m *Memory) remember(id string) {
	if _, ok := m.order[id]; !ok {
		m.order[id] = m.next
		m.next++
	}
}

// Search matches every whitespace-separated term case-insensitively. Newer posts rank
// first.
func (m *Memory) Search(_ context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	m.mu.RLock()
	var hits []Result
	if q.FilterType == "" || q.FilterType == ResultThread {
		for _, t := range m.threads {
			if !m.accept(q, t.ChatID, t.Author, terms, t.Title, t.Body) {
				continue
			}
			hits = append(hits, Result{Type: ResultThread, ID: t.ID, ThreadID: t.ThreadID, Author: t.Author, Title: t.Title, Snippet: t.Body})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultReply {
		for _, r := range m.replies {
			if !m.accept(q, r.ChatID, r.Author, terms, r.Content) {
				continue
			}
			hits = append(hits, Result{Type: ResultReply, ID: r.ID, ThreadID: r.ThreadID, Author: r.Author, Title: r.ThreadTitle, Snippet: r.Content})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return m.order[hits[i].ID] > m.order[hits[j].ID]
	})
	m.mu.RUnlock()

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return hits[offset:end], total, nil
}

func (m *Memory) accept(q Query, chatID, author string, terms []string, fields ...string) bool {
	if q.ChatID != "" && chatID != q.ChatID {
		return false
	}
	if q.FilterAuthor != "" && author != q.FilterAuthor {
		return false
	}
	text := strings.ToLower(strings.Join(fields, " "))
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
