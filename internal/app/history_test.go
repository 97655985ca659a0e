package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"phonesync/api/internal/archive"
	"phonesync/api/internal/docsync"
	"phonesync/api/internal/export"
	"phonesync/api/internal/gitrepo"
	"phonesync/api/internal/markup"
	"phonesync/api/internal/merge"
	"phonesync/api/internal/store"
)

func revision(text string, source docsync.Source, at time.Time, stats merge.Stats) docsync.Revision {
	return docsync.Revision{
		Text:     text,
		Document: markup.ParseSection(text),
		Stats:    stats,
		Source:   source,
		At:       at,
	}
}

func TestHistoryFromGit(t *testing.T) {
	repo := gitrepo.New(t.TempDir())
	first := "[Heading|Alice|t1|Cats|I love cats]"
	second := first + "\n[Answer|Bob|t1|Me too!]"
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := repo.Commit("chat-1", revision(first, docsync.SourceDirect, at, merge.Stats{NewThreads: 1})); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := repo.Commit("chat-1", revision(second, docsync.SourceQueue, at.Add(time.Minute), merge.Stats{NewReplies: 1})); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	history := GitHistory{Log: repo, ChatID: "chat-1"}
	server := newTestServer(Deps{History: history}, HTTPOptions{})
	rr := do(t, server, http.MethodGet, "/api/history?limit=10", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Entries []HistoryEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse history: %v", err)
	}
	if len(payload.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", payload.Entries)
	}
	if payload.Entries[0].Source != "queue" || payload.Entries[1].Source != "direct" {
		t.Fatalf("unexpected sources %+v", payload.Entries)
	}

	doc, err := history.DocumentAt(context.Background(), payload.Entries[1].ID)
	if err != nil {
		t.Fatalf("DocumentAt() error = %v", err)
	}
	if len(doc.Replies["t1"]) != 0 || !doc.HasThread("t1") {
		t.Fatalf("unexpected document at first commit %+v", doc)
	}
}

func TestHistoryUnavailable(t *testing.T) {
	server := newTestServer(Deps{}, HTTPOptions{})
	rr := do(t, server, http.MethodGet, "/api/history", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if code := decode(t, rr)["code"]; code != "HISTORY_UNAVAILABLE" {
		t.Fatalf("unexpected code %v", code)
	}
}

type fakeRevisionLog struct {
	revisions []store.Revision
	limit     int
}

func (f *fakeRevisionLog) Revisions(_ context.Context, limit int) ([]store.Revision, error) {
	f.limit = limit
	return f.revisions, nil
}

func TestRevisionHistory(t *testing.T) {
	log := &fakeRevisionLog{revisions: []store.Revision{
		{ID: 7, Source: "forced", NewThreads: 1, NewReplies: 2, CreatedAt: time.Unix(100, 0).UTC()},
	}}
	svc := NewService(Deps{Sync: &fakeSync{}, Gate: &fakeGate{}, History: RevisionHistory{Log: log}})

	entries, err := svc.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if log.limit != 50 {
		t.Fatalf("default limit = %d", log.limit)
	}
	want := HistoryEntry{ID: "7", Message: "+1 threads, +2 replies, +0 sub-replies", Source: "forced", At: time.Unix(100, 0).UTC()}
	if len(entries) != 1 || entries[0] != want {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}
}

type fakeSnapshots struct {
	texts map[string]string
}

func (f *fakeSnapshots) Snapshots(context.Context, int) ([]archive.Snapshot, error) {
	return []archive.Snapshot{{Key: "chats/c/1-direct.txt", Source: "direct"}}, nil
}

func (f *fakeSnapshots) Text(_ context.Context, key string) (string, error) {
	text, ok := f.texts[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return text, nil
}

func TestArchiveHistoryResolvesVersions(t *testing.T) {
	snaps := &fakeSnapshots{texts: map[string]string{
		"chats/c/1-direct.txt": "prose\n" + markup.StartMarker + "\n[Heading|Alice|t1|Cats|meow]\n" + markup.EndMarker,
	}}
	history := ArchiveHistory{Log: snaps}

	entries, err := history.History(context.Background(), 10)
	if err != nil || len(entries) != 1 || entries[0].Source != "direct" {
		t.Fatalf("History() = %+v, %v", entries, err)
	}
	doc, err := history.DocumentAt(context.Background(), "chats/c/1-direct.txt")
	if err != nil {
		t.Fatalf("DocumentAt() error = %v", err)
	}
	if !doc.HasThread("t1") {
		t.Fatalf("expected t1 in %+v", doc)
	}
}

func TestExportEndpoints(t *testing.T) {
	doc := markup.Parse("[Heading|Alice|t1|Cats|I love cats]\n[Answer|Bob|t1|Me too!]")
	sync := &fakeSync{documentFn: func(context.Context) (markup.Document, error) { return doc, nil }}
	pdf := func(_ context.Context, html string) ([]byte, error) {
		if !strings.Contains(html, "Cats") {
			t.Fatalf("rendered html is missing the thread title")
		}
		return []byte("%PDF-1.7"), nil
	}
	exporter := export.NewService(ExportSource{Sync: sync}, pdf)
	server := newTestServer(Deps{Sync: sync, Export: exporter}, HTTPOptions{})

	rr := do(t, server, http.MethodGet, "/api/export.html?title=Board", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("html: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Me too!") {
		t.Fatal("html export is missing the reply")
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Board.html") {
		t.Fatalf("unexpected disposition %q", cd)
	}

	rr = do(t, server, http.MethodGet, "/api/export.pdf", "", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "%PDF-1.7" {
		t.Fatalf("pdf: got %d %q", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/api/export.html?version=abc123", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("versioned export without history: expected 404, got %d", rr.Code)
	}
	if code := decode(t, rr)["code"]; code != "VERSION_NOT_FOUND" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestExportPDFMissingChrome(t *testing.T) {
	pdf := func(context.Context, string) ([]byte, error) {
		return nil, export.ErrPDFDependencyMissing
	}
	sync := &fakeSync{}
	server := newTestServer(Deps{Sync: sync, Export: export.NewService(ExportSource{Sync: sync}, pdf)}, HTTPOptions{})
	rr := do(t, server, http.MethodGet, "/api/export.pdf", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
