package store

import "time"

// Revision is one row of chat_revisions.
type Revision struct {
	ID            int64     `json:"id"`
	ChatID        string    `json:"chatId"`
	Body          string    `json:"body,omitempty"`
	Source        string    `json:"source"`
	NewThreads    int       `json:"newThreads"`
	NewReplies    int       `json:"newReplies"`
	NewSubReplies int       `json:"newSubReplies"`
	CreatedAt     time.Time `json:"createdAt"`
}
