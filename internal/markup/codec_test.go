package markup

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// contentOnly compares documents by what a reader sees, ignoring generated ids and
// synthetic clocks.
var contentOnly = cmp.Options{
	cmpopts.IgnoreFields(Thread{}, "CreatedAt", "LastActivityAt"),
	cmpopts.IgnoreFields(Reply{}, "ID", "CreatedAt"),
	cmpopts.IgnoreFields(SubReply{}, "ID", "CreatedAt"),
	cmpopts.EquateEmpty(),
}

func TestParseRecognisesAllRecordShapes(t *testing.T) {
	text := strings.Join([]string{
		"[Heading|Alice|t1|Cats|I love cats]",
		"[Answer|Bob|t1|Me too!]",
		"[SubOf|Alice|t1|Bob|Glad to hear]",
		"[Heading|Carol|t2|Dogs|Dogs are better]",
	}, "\n")

	doc := Parse(text)

	want := Document{
		Threads: []Thread{
			{ID: "t1", Author: "Alice", Title: "Cats", Body: "I love cats"},
			{ID: "t2", Author: "Carol", Title: "Dogs", Body: "Dogs are better"},
		},
		Replies: map[string][]Reply{
			"t1": {{
				ThreadID: "t1",
				Author:   "Bob",
				Content:  "Me too!",
				Kind:     KindReply,
				SubReplies: []SubReply{{
					ThreadID:     "t1",
					Author:       "Alice",
					Content:      "Glad to hear",
					ParentAuthor: "Bob",
					Kind:         KindSubReply,
				}},
			}},
		},
	}
	if diff := cmp.Diff(want, doc, contentOnly); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIsOrderIndependent(t *testing.T) {
	doc := Parse("[Answer|Bob|t1|first]\n[SubOf|Cy|t1|Bob|nested]\n[Heading|Alice|t1|Title|Body]")
	if got := doc.PostCount("t1"); got != 2 {
		t.Fatalf("expected reply and sub-reply attached despite order, got %d posts", got)
	}
	if len(doc.Replies["t1"][0].SubReplies) != 1 {
		t.Fatalf("expected sub-reply nested under Bob, got %+v", doc.Replies["t1"])
	}
}

func TestParseDropsRepliesToUnknownThreads(t *testing.T) {
	doc := Parse("[Heading|Alice|t1|Cats|I love cats]\n[Answer|Bob|t9|lost]")
	if len(doc.Replies["t9"]) != 0 {
		t.Fatalf("expected reply to unknown thread dropped, got %+v", doc.Replies["t9"])
	}
	if _, ok := doc.Replies["t9"]; ok {
		t.Fatal("expected no reply bucket for unknown thread")
	}
}

func TestParseOrphanSubReplyBecomesReply(t *testing.T) {
	doc := Parse("[Heading|Alice|t1|Cats|I love cats]\n[SubOf|Bob|t1|Zed|hi]")

	replies := doc.Replies["t1"]
	if len(replies) != 1 {
		t.Fatalf("expected orphan kept as one reply, got %d", len(replies))
	}
	if replies[0].Author != "Bob" || replies[0].Content != "hi" || replies[0].Kind != KindReply {
		t.Fatalf("unexpected fallback reply: %+v", replies[0])
	}
}

func TestParseIgnoresMalformedRecords(t *testing.T) {
	text := "[Heading|Alice|t1|missing body]\n[Answer|Bob]\n[Heading|Alice|t2|Ok|Fine]\n[Answer|Bob|t2|truncated"
	doc := Parse(text)
	if ids := doc.ThreadIDs(); len(ids) != 1 || ids[0] != "t2" {
		t.Fatalf("expected only t2 parsed, got %v", ids)
	}
	if doc.PostCount("t2") != 0 {
		t.Fatalf("expected truncated reply ignored, got %+v", doc.Replies["t2"])
	}
}

func TestParseTruncatedRecordDoesNotSwallowNextLine(t *testing.T) {
	text := "[Heading|Alice|t1|Cats|cut off by the context window\n" +
		"[Heading|Bob|t2|Dogs|I love dogs]\n" +
		"[Answer|Carl|t2|Me too]"
	doc := Parse(text)
	if ids := doc.ThreadIDs(); len(ids) != 1 || ids[0] != "t2" {
		t.Fatalf("expected only t2 parsed, got %v", ids)
	}
	if got := doc.Thread("t2").Body; got != "I love dogs" {
		t.Fatalf("unexpected t2 body %q", got)
	}
	if doc.PostCount("t2") != 1 {
		t.Fatalf("expected t2 reply kept, got %+v", doc.Replies["t2"])
	}
	if out := Serialize(doc); strings.Contains(out, `\|`) {
		t.Fatalf("serialized output carries escaped record text: %q", out)
	}
}

func TestParseAcceptsEmptyFields(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		threads []string
		replies []string
	}{
		{name: "empty title", text: "[Heading|Alice|t1||I love cats]", threads: []string{"t1"}},
		{
			name:    "empty reply content",
			text:    "[Heading|Alice|t1|Cats|I love cats]\n[Answer|Bob|t1|]",
			threads: []string{"t1"},
			replies: []string{""},
		},
		{name: "empty thread id is skipped", text: "[Heading|Alice|||I love cats]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(tt.text)
			if diff := cmp.Diff(tt.threads, doc.ThreadIDs(), cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("threads mismatch (-want +got):\n%s", diff)
			}
			var got []string
			for _, r := range doc.Replies["t1"] {
				got = append(got, r.Content)
			}
			if diff := cmp.Diff(tt.replies, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("replies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseKeepsDuplicateThreadIDs(t *testing.T) {
	doc := Parse("[Heading|Alice|t1|First|a]\n[Heading|Bob|t1|Second|b]")
	if len(doc.Threads) != 2 {
		t.Fatalf("expected parse to keep both records, got %d", len(doc.Threads))
	}
	if got := doc.Thread("t1").Title; got != "First" {
		t.Fatalf("expected lookup to resolve first occurrence, got %q", got)
	}
}

func TestParseTimestampsAreDeterministic(t *testing.T) {
	text := "[Heading|A|t1|x|y]\n[Heading|B|t2|x|y]\n[Answer|C|t1|one]\n[Answer|D|t2|two]\n[SubOf|E|t1|C|three]"
	first := Parse(text)
	second := Parse(text)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("parse of identical text differed:\n%s", diff)
	}

	if got := first.Threads[1].CreatedAt.Sub(first.Threads[0].CreatedAt); got != time.Minute {
		t.Fatalf("thread step = %v, want 1m", got)
	}
	if got := first.Replies["t2"][0].CreatedAt.Sub(first.Replies["t1"][0].CreatedAt); got != 30*time.Second {
		t.Fatalf("reply step = %v, want 30s", got)
	}
}

func TestSerializeOrdersByLastActivity(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{
		Threads: []Thread{
			{ID: "old", Author: "A", Title: "Old", Body: "b", CreatedAt: base, LastActivityAt: base},
			{ID: "quiet", Author: "B", Title: "Quiet", Body: "b", CreatedAt: base.Add(time.Hour), LastActivityAt: base.Add(time.Hour)},
		},
		Replies: map[string][]Reply{
			"old": {{Author: "C", Content: "bump", CreatedAt: base.Add(2 * time.Hour), Kind: KindReply}},
		},
	}

	out := Serialize(doc)
	want := "[Heading|A|old|Old|b]\n[Answer|C|old|bump]\n\n[Heading|B|quiet|Quiet|b]"
	if out != want {
		t.Fatalf("Serialize() =\n%s\nwant\n%s", out, want)
	}
}

func TestSerializeTiesKeepDocumentOrder(t *testing.T) {
	at := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{
		Threads: []Thread{
			{ID: "a", Author: "A", Title: "1", Body: "x", CreatedAt: at, LastActivityAt: at},
			{ID: "b", Author: "B", Title: "2", Body: "x", CreatedAt: at, LastActivityAt: at},
			{ID: "c", Author: "C", Title: "3", Body: "x", CreatedAt: at, LastActivityAt: at},
		},
	}
	out := Serialize(doc)
	if !strings.HasPrefix(out, "[Heading|A|a|") || strings.Index(out, "|b|") > strings.Index(out, "|c|") {
		t.Fatalf("expected stable order a,b,c, got:\n%s", out)
	}
}

func TestSerializeNestsSubRepliesAfterParent(t *testing.T) {
	doc := Parse("[Heading|Alice|t1|Cats|I love cats]\n[Answer|Bob|t1|Me too]\n[Answer|Cy|t1|Meh]\n[SubOf|Dee|t1|Bob|Same]")
	lines := strings.Split(Serialize(doc), "\n")
	want := []string{
		"[Heading|Alice|t1|Cats|I love cats]",
		"[Answer|Bob|t1|Me too]",
		"[SubOf|Dee|t1|Bob|Same]",
		"[Answer|Cy|t1|Meh]",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("unexpected layout (-want +got):\n%s", diff)
	}
}

func TestRoundTripPreservesContent(t *testing.T) {
	inputs := []string{
		"[Heading|Alice|t1|Cats|I love cats]\n[Answer|Bob|t1|Me too!]",
		"[Heading|A|t1|x|y]\n[Heading|B|t2|p|q]\n[Answer|C|t2|hello]\n[SubOf|D|t2|C|hi back]\n[SubOf|E|t1|Nobody|orphan]",
		"noise before [Heading|A|t1|x|y] noise [Answer|B|t1|z] after",
		"[Heading|A|t1|pipes|body with | a pipe]\n[Answer|B|t1|closing \\] bracket]",
	}
	for _, input := range inputs {
		first := Parse(input)
		second := Parse(Serialize(first))

		if diff := cmp.Diff(first.ThreadIDs(), second.ThreadIDs(), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
			t.Fatalf("thread ids changed for %q:\n%s", input, diff)
		}
		for _, id := range first.ThreadIDs() {
			if first.PostCount(id) != second.PostCount(id) {
				t.Fatalf("post count for %s changed: %d -> %d", id, first.PostCount(id), second.PostCount(id))
			}
			if diff := cmp.Diff(first.Replies[id], second.Replies[id], contentOnly); diff != "" {
				t.Fatalf("replies for %s changed:\n%s", id, diff)
			}
			if diff := cmp.Diff(*first.Thread(id), *second.Thread(id), contentOnly); diff != "" {
				t.Fatalf("thread %s changed:\n%s", id, diff)
			}
		}
	}
}

func TestEscapedFieldsSurviveRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Threads = append(doc.Threads, Thread{ID: "t1", Author: "A|B", Title: "x]y", Body: `back\slash`})
	doc.Replies["t1"] = []Reply{{Author: "C", Content: "a|b]c", Kind: KindReply}}

	out := Serialize(doc)
	if !strings.Contains(out, `[Heading|A\|B|t1|x\]y|back\\slash]`) {
		t.Fatalf("expected escaped heading, got %q", out)
	}

	parsed := Parse(out)
	thread := parsed.Thread("t1")
	if thread == nil || thread.Author != "A|B" || thread.Title != "x]y" || thread.Body != `back\slash` {
		t.Fatalf("unexpected thread after round trip: %+v", thread)
	}
	if got := parsed.Replies["t1"][0].Content; got != "a|b]c" {
		t.Fatalf("reply content = %q", got)
	}
}

func TestUnescapeKeepsUnknownEscapes(t *testing.T) {
	if got := unescape(`C:\path\|x`); got != `C:\path|x` {
		t.Fatalf("unescape() = %q", got)
	}
}
