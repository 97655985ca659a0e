// Package markup parses and renders the bracketed forum protocol that lives in the
// shared chat buffer:
//
//	[Heading|<author>|<threadId>|<title>|<body>]
//	[Answer|<author>|<threadId>|<content>]
//	[SubOf|<author>|<threadId>|<parentAuthor>|<content>]
package markup

import "time"

// Kind tags a reply record.
type Kind string

const (
	KindReply    Kind = "reply"
	KindSubReply Kind = "subreply"
)

// Thread is a forum post. ID comes from the markup and is the merge identity.
type Thread struct {
	ID             string    `json:"id"`
	Author         string    `json:"author"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Reply belongs to exactly one thread and owns its nested sub-replies.
type Reply struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId"`
	Author     string     `json:"author"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	Kind       Kind       `json:"kind"`
	SubReplies []SubReply `json:"subReplies,omitempty"`
}

// SubReply answers the reply written by ParentAuthor in the same thread.
type SubReply struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	Author       string    `json:"author"`
	Content      string    `json:"content"`
	ParentAuthor string    `json:"parentAuthor"`
	CreatedAt    time.Time `json:"createdAt"`
	Kind         Kind      `json:"kind"`
}

// Document is the structured view of one buffer section. Threads keeps scan order
// and may hold the same id twice; lookups resolve to the first occurrence.
type Document struct {
	Threads []Thread           `json:"threads"`
	Replies map[string][]Reply `json:"replies"`
}

func NewDocument() Document {
	return Document{
		Threads: []Thread{},
		Replies: make(map[string][]Reply),
	}
}

// Thread returns the first thread with the given id.
func (d *Document) Thread(id string) *Thread {
	for i := range d.Threads {
		if d.Threads[i].ID == id {
			return &d.Threads[i]
		}
	}
	return nil
}

func (d *Document) HasThread(id string) bool {
	return d.Thread(id) != nil
}

// ThreadIDs lists distinct thread ids in first-seen order.
func (d *Document) ThreadIDs() []string {
	seen := make(map[string]struct{}, len(d.Threads))
	ids := make([]string, 0, len(d.Threads))
	for _, thread := range d.Threads {
		if _, ok := seen[thread.ID]; ok {
			continue
		}
		seen[thread.ID] = struct{}{}
		ids = append(ids, thread.ID)
	}
	return ids
}

// IsEmpty reports whether the document holds no records at all.
func (d *Document) IsEmpty() bool {
	if len(d.Threads) > 0 {
		return false
	}
	for _, replies := range d.Replies {
		if len(replies) > 0 {
			return false
		}
	}
	return true
}

// PostCount counts replies and sub-replies of a thread.
func (d *Document) PostCount(threadID string) int {
	count := 0
	for _, reply := range d.Replies[threadID] {
		count += 1 + len(reply.SubReplies)
	}
	return count
}

// Clone returns a deep copy so merges never alias their inputs.
func (d Document) Clone() Document {
	out := Document{
		Threads: append([]Thread{}, d.Threads...),
		Replies: make(map[string][]Reply, len(d.Replies)),
	}
	for id, replies := range d.Replies {
		copied := make([]Reply, len(replies))
		for i, reply := range replies {
			copied[i] = reply
			if reply.SubReplies != nil {
				copied[i].SubReplies = append([]SubReply{}, reply.SubReplies...)
			}
		}
		out.Replies[id] = copied
	}
	return out
}

// LastActivity is the newest timestamp among the thread and everything under it.
func (d *Document) LastActivity(thread Thread) time.Time {
	latest := thread.LastActivityAt
	if thread.CreatedAt.After(latest) {
		latest = thread.CreatedAt
	}
	for _, reply := range d.Replies[thread.ID] {
		if reply.CreatedAt.After(latest) {
			latest = reply.CreatedAt
		}
		for _, sub := range reply.SubReplies {
			if sub.CreatedAt.After(latest) {
				latest = sub.CreatedAt
			}
		}
	}
	return latest
}
