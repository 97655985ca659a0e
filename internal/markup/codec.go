package markup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Fields may be empty but never span lines, so a record cut off at the end of a
// line cannot swallow the records after it.
const (
	field     = `((?:\\.|[^|\]\\\n])*?)`
	lastField = `((?:\\.|[^\]\\\n])*?)`
)

var (
	threadPattern   = regexp.MustCompile(`\[Heading\|` + field + `\|` + field + `\|` + field + `\|` + lastField + `\]`)
	replyPattern    = regexp.MustCompile(`\[Answer\|` + field + `\|` + field + `\|` + lastField + `\]`)
	subReplyPattern = regexp.MustCompile(`\[SubOf\|` + field + `\|` + field + `\|` + field + `\|` + lastField + `\]`)
)

// Synthetic clocks for records that carry no time of their own. Identical text always
// yields identical timestamps.
var (
	threadEpoch   = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	replyEpoch    = threadEpoch.Add(6 * time.Hour)
	subReplyEpoch = threadEpoch.Add(12 * time.Hour)
)

const (
	threadStep   = 60 * time.Second
	replyStep    = 30 * time.Second
	subReplyStep = 15 * time.Second
)

// Parse scans text for thread, reply and sub-reply records. Records that do not match
// their full shape are skipped, replies to unknown threads are dropped and sub-replies
// without a parent become plain replies.
func Parse(text string) Document {
	doc := NewDocument()

	for i, match := range threadPattern.FindAllStringSubmatch(text, -1) {
		author, id, title, body := clean(match[1]), clean(match[2]), clean(match[3]), clean(match[4])
		if id == "" {
			continue
		}
		at := threadEpoch.Add(time.Duration(i) * threadStep)
		doc.Threads = append(doc.Threads, Thread{
			ID:             id,
			Author:         author,
			Title:          title,
			Body:           body,
			CreatedAt:      at,
			LastActivityAt: at,
		})
	}

	for i, match := range replyPattern.FindAllStringSubmatch(text, -1) {
		author, threadID, content := clean(match[1]), clean(match[2]), clean(match[3])
		if !doc.HasThread(threadID) {
			continue
		}
		doc.Replies[threadID] = append(doc.Replies[threadID], Reply{
			ID:        fmt.Sprintf("reply-%d", i),
			ThreadID:  threadID,
			Author:    author,
			Content:   content,
			CreatedAt: replyEpoch.Add(time.Duration(i) * replyStep),
			Kind:      KindReply,
		})
	}

	for i, match := range subReplyPattern.FindAllStringSubmatch(text, -1) {
		author, threadID, parent, content := clean(match[1]), clean(match[2]), clean(match[3]), clean(match[4])
		if !doc.HasThread(threadID) {
			continue
		}
		at := subReplyEpoch.Add(time.Duration(i) * subReplyStep)
		replies := doc.Replies[threadID]
		if idx := findParent(replies, parent); idx >= 0 {
			replies[idx].SubReplies = append(replies[idx].SubReplies, SubReply{
				ID:           fmt.Sprintf("sub-%d", i),
				ThreadID:     threadID,
				Author:       author,
				Content:      content,
				ParentAuthor: parent,
				CreatedAt:    at,
				Kind:         KindSubReply,
			})
			continue
		}
		doc.Replies[threadID] = append(replies, Reply{
			ID:        fmt.Sprintf("sub-%d", i),
			ThreadID:  threadID,
			Author:    author,
			Content:   content,
			CreatedAt: at,
			Kind:      KindReply,
		})
	}

	return doc
}

func findParent(replies []Reply, author string) int {
	for i, reply := range replies {
		if reply.Author == author {
			return i
		}
	}
	return -1
}

// Ordered returns the distinct threads of doc, most recently active first. Ties keep
// document order and a repeated thread id counts once.
func Ordered(doc Document) []Thread {
	type entry struct {
		thread Thread
		active time.Time
	}

	seen := make(map[string]struct{}, len(doc.Threads))
	entries := make([]entry, 0, len(doc.Threads))
	for _, thread := range doc.Threads {
		if _, ok := seen[thread.ID]; ok {
			continue
		}
		seen[thread.ID] = struct{}{}
		entries = append(entries, entry{thread: thread, active: doc.LastActivity(thread)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].active.After(entries[j].active)
	})

	threads := make([]Thread, len(entries))
	for i, item := range entries {
		threads[i] = item.thread
	}
	return threads
}

// Serialize renders doc in Ordered order.
func Serialize(doc Document) string {
	var out strings.Builder
	for _, t := range Ordered(doc) {
		fmt.Fprintf(&out, "[Heading|%s|%s|%s|%s]\n", escape(t.Author), escape(t.ID), escape(t.Title), escape(t.Body))
		for _, reply := range doc.Replies[t.ID] {
			fmt.Fprintf(&out, "[Answer|%s|%s|%s]\n", escape(reply.Author), escape(t.ID), escape(reply.Content))
			for _, sub := range reply.SubReplies {
				fmt.Fprintf(&out, "[SubOf|%s|%s|%s|%s]\n", escape(sub.Author), escape(t.ID), escape(sub.ParentAuthor), escape(sub.Content))
			}
		}
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), " \t\r\n")
}

// StripRecords removes every recognised record and returns the remaining prose.
func StripRecords(text string) string {
	for _, pattern := range []*regexp.Regexp{threadPattern, replyPattern, subReplyPattern} {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(blankRun.ReplaceAllString(text, "\n\n"))
}

var blankRun = regexp.MustCompile(`\n\s*\n(\s*\n)+`)

func clean(raw string) string {
	return strings.TrimSpace(unescape(raw))
}

func escape(value string) string {
	if !strings.ContainsAny(value, `\|]`) {
		return value
	}
	var b strings.Builder
	b.Grow(len(value) + 4)
	for _, r := range value {
		switch r {
		case '\\', '|', ']':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unescape reverses escape. Backslashes before any other character are literal.
func unescape(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' && i+1 < len(value) {
			switch next := value[i+1]; next {
			case '\\', '|', ']':
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
