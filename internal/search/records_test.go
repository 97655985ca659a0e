package search

import (
	"testing"

	"phonesync/api/internal/markup"
)

const forum = `[Heading|Alice|t1|Cats|I love cats]
[Answer|Bob|t1|Me too!]
[SubOf|Carol|t1|Bob|Same here]
[Heading|Dan|t2|Dogs|Woof]
[Heading|Dan|t2|Dogs again|duplicate id]`

func TestRecordsFlattensDocument(t *testing.T) {
	threads, replies := Records("chat-1", markup.Parse(forum))

	if len(threads) != 2 {
		t.Fatalf("expected 2 thread records, got %d", len(threads))
	}
	if threads[1].Title != "Dogs" {
		t.Fatalf("first occurrence of t2 should win, got %q", threads[1].Title)
	}
	if len(replies) != 2 {
		t.Fatalf("expected reply and sub-reply records, got %d", len(replies))
	}
	sub := replies[1]
	if sub.Kind != string(markup.KindSubReply) || sub.ParentAuthor != "Bob" || sub.ThreadTitle != "Cats" {
		t.Fatalf("unexpected sub-reply record %+v", sub)
	}
	for _, r := range replies {
		if r.ChatID != "chat-1" {
			t.Fatalf("record missing chat id: %+v", r)
		}
	}
}

func TestRecordIDsSurviveReparse(t *testing.T) {
	first, firstReplies := Records("chat-1", markup.Parse(forum))
	again, againReplies := Records("chat-1", markup.Parse(markup.Serialize(markup.Parse(forum))))

	ids := map[string]bool{}
	for _, r := range first {
		ids[r.ID] = true
	}
	for _, r := range firstReplies {
		ids[r.ID] = true
	}
	for _, r := range again {
		if !ids[r.ID] {
			t.Fatalf("thread id %s changed across reparse", r.ID)
		}
	}
	for _, r := range againReplies {
		if !ids[r.ID] {
			t.Fatalf("reply id %s changed across reparse", r.ID)
		}
	}
}

func TestRecordIDsAreScopedByChat(t *testing.T) {
	a, _ := Records("chat-a", markup.Parse(forum))
	b, _ := Records("chat-b", markup.Parse(forum))
	if a[0].ID == b[0].ID {
		t.Fatal("the same thread in two chats must not share an index id")
	}
}
