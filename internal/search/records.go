package search

import (
	"github.com/google/uuid"

	"phonesync/api/internal/markup"
)

// Parsed post ids are positional and change between writes, so index keys are derived
// from what a post says instead.
var recordNamespace = uuid.MustParse("5b0c3a52-8a57-4f5e-9a0e-6f1de3f0c2a1")

func recordID(parts ...string) string {
	var data []byte
	for _, part := range parts {
		data = append(data, part...)
		data = append(data, 0)
	}
	return uuid.NewSHA1(recordNamespace, data).String()
}

// Records flattens a document into index records. Threads repeated under one id are
// indexed once.
func Records(chatID string, doc markup.Document) ([]ThreadRecord, []ReplyRecord) {
	threads := make([]ThreadRecord, 0, len(doc.Threads))
	var replies []ReplyRecord
	seen := make(map[string]bool, len(doc.Threads))
	for _, thread := range doc.Threads {
		if seen[thread.ID] {
			continue
		}
		seen[thread.ID] = true
		threads = append(threads, ThreadRecord{
			ID:       recordID(chatID, "thread", thread.ID),
			ChatID:   chatID,
			ThreadID: thread.ID,
			Author:   thread.Author,
			Title:    thread.Title,
			Body:     thread.Body,
		})
		for _, reply := range doc.Replies[thread.ID] {
			replies = append(replies, ReplyRecord{
				ID:          recordID(chatID, "reply", thread.ID, reply.Author, reply.Content),
				ChatID:      chatID,
				ThreadID:    thread.ID,
				ThreadTitle: thread.Title,
				Author:      reply.Author,
				Content:     reply.Content,
				Kind:        string(reply.Kind),
			})
			for _, sub := range reply.SubReplies {
				replies = append(replies, ReplyRecord{
					ID:           recordID(chatID, "subreply", thread.ID, sub.ParentAuthor, sub.Author, sub.Content),
					ChatID:       chatID,
					ThreadID:     thread.ID,
					ThreadTitle:  thread.Title,
					Author:       sub.Author,
					ParentAuthor: sub.ParentAuthor,
					Content:      sub.Content,
					Kind:         string(sub.Kind),
				})
			}
		}
	}
	return threads, replies
}
