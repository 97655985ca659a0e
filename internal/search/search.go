// Package search indexes the forum posts of the chat document and answers text
// queries over them. Meilisearch is preferred; PostgreSQL full-text search or an
// in-memory scan serve when it is unavailable.
package search

import "context"

// ResultType identifies the kind of post in a search result.
type ResultType string

const (
	ResultThread ResultType = "thread"
	ResultReply  ResultType = "reply"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	ThreadID string     `json:"threadId"`
	Author   string     `json:"author"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	ChatID       string
	Text         string
	FilterType   ResultType // empty = all types
	FilterAuthor string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer replaces the indexed posts of one chat.
type Indexer interface {
	IndexPosts(ctx context.Context, chatID string, threads []ThreadRecord, replies []ReplyRecord) error
}

type Backend interface {
	Searcher
	Indexer
}

// ThreadRecord is the data we index for a forum thread.
type ThreadRecord struct {
	ID       string `json:"id"`
	ChatID   string `json:"chatId"`
	ThreadID string `json:"threadId"`
	Author   string `json:"author"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// ReplyRecord is the data we index for a reply or sub-reply.
type ReplyRecord struct {
	ID           string `json:"id"`
	ChatID       string `json:"chatId"`
	ThreadID     string `json:"threadId"`
	ThreadTitle  string `json:"threadTitle"`
	Author       string `json:"author"`
	ParentAuthor string `json:"parentAuthor,omitempty"`
	Content      string `json:"content"`
	Kind         string `json:"kind"`
}

const defaultLimit = 20
