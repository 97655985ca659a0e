// Package merge folds freshly generated forum content into the stored document.
// Merging is additive: nothing already stored is removed or rewritten.
package merge

import (
	"strings"
	"time"

	"phonesync/api/internal/markup"
	"phonesync/api/internal/util"
)

// PrefixRunes is how much of an incoming post must already appear in a stored post
// by the same author for the two to count as one.
const PrefixRunes = 20

type Stats struct {
	NewThreads    int `json:"newThreads"`
	NewReplies    int `json:"newReplies"`
	NewSubReplies int `json:"newSubReplies"`
	Duplicates    int `json:"duplicates"`
}

func (s Stats) Changed() bool {
	return s.NewThreads+s.NewReplies+s.NewSubReplies > 0
}

func Merge(existing, incoming markup.Document, now time.Time) markup.Document {
	merged, _ := MergeWithStats(existing, incoming, now)
	return merged
}

func MergeWithStats(existing, incoming markup.Document, now time.Time) (markup.Document, Stats) {
	var stats Stats
	source := existing.Clone()

	result := markup.NewDocument()
	stored := make(map[string]bool, len(source.Threads))
	for _, thread := range source.Threads {
		if stored[thread.ID] {
			continue
		}
		stored[thread.ID] = true
		result.Threads = append(result.Threads, thread)
		if replies := source.Replies[thread.ID]; len(replies) > 0 {
			result.Replies[thread.ID] = replies
		}
	}

	for _, thread := range incoming.Threads {
		if result.HasThread(thread.ID) {
			continue
		}
		thread.CreatedAt = now
		thread.LastActivityAt = now
		result.Threads = append(result.Threads, thread)
		stats.NewThreads++
	}

	for _, threadID := range incoming.ThreadIDs() {
		thread := result.Thread(threadID)
		if thread == nil {
			continue
		}
		replies := result.Replies[threadID]
		added := 0
		for _, in := range incoming.Replies[threadID] {
			if idx := matchReply(replies, in.Author, in.Content); idx >= 0 {
				stats.Duplicates++
				for _, sub := range in.SubReplies {
					if isDuplicate(replies[idx].SubReplies, sub.Author, sub.Content) {
						stats.Duplicates++
						continue
					}
					replies[idx].SubReplies = append(replies[idx].SubReplies, freshSubReply(sub, threadID, now))
					stats.NewSubReplies++
					added++
				}
				continue
			}
			if containsSubReply(replies, in.Author, in.Content) {
				stats.Duplicates++
				continue
			}
			reply := markup.Reply{
				ID:        util.NewID("reply"),
				ThreadID:  threadID,
				Author:    in.Author,
				Content:   in.Content,
				CreatedAt: now,
				Kind:      markup.KindReply,
			}
			for _, sub := range in.SubReplies {
				if isDuplicate(reply.SubReplies, sub.Author, sub.Content) {
					stats.Duplicates++
					continue
				}
				reply.SubReplies = append(reply.SubReplies, freshSubReply(sub, threadID, now))
				stats.NewSubReplies++
			}
			replies = append(replies, reply)
			stats.NewReplies++
			added++
		}
		if len(replies) > 0 {
			result.Replies[threadID] = replies
		}
		if added > 0 && stored[threadID] {
			thread.LastActivityAt = now
		}
	}

	return result, stats
}

func freshSubReply(sub markup.SubReply, threadID string, now time.Time) markup.SubReply {
	return markup.SubReply{
		ID:           util.NewID("sub"),
		ThreadID:     threadID,
		Author:       sub.Author,
		Content:      sub.Content,
		ParentAuthor: sub.ParentAuthor,
		CreatedAt:    now,
		Kind:         markup.KindSubReply,
	}
}

// IsDuplicate is the dedup predicate: same author, and the stored content contains
// the first PrefixRunes runes of the incoming content.
func IsDuplicate(storedAuthor, storedContent, author, content string) bool {
	if storedAuthor != author {
		return false
	}
	return strings.Contains(storedContent, prefix(content, PrefixRunes))
}

func matchReply(replies []markup.Reply, author, content string) int {
	for i, reply := range replies {
		if IsDuplicate(reply.Author, reply.Content, author, content) {
			return i
		}
	}
	return -1
}

func containsSubReply(replies []markup.Reply, author, content string) bool {
	for _, reply := range replies {
		if isDuplicate(reply.SubReplies, author, content) {
			return true
		}
	}
	return false
}

func isDuplicate(subs []markup.SubReply, author, content string) bool {
	for _, sub := range subs {
		if IsDuplicate(sub.Author, sub.Content, author, content) {
			return true
		}
	}
	return false
}

func prefix(value string, n int) string {
	count := 0
	for i := range value {
		if count == n {
			return value[:i]
		}
		count++
	}
	return value
}
