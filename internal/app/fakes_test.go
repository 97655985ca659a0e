package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"phonesync/api/internal/auth"
	"phonesync/api/internal/docsync"
	"phonesync/api/internal/markup"
	"phonesync/api/internal/queue"
	"phonesync/api/internal/search"
)

type fakeSync struct {
	insertFn   func(context.Context, string, docsync.InsertOptions) (docsync.Result, error)
	documentFn func(context.Context) (markup.Document, error)
	rawFn      func(context.Context) (string, error)
	status     queue.Status
	cleared    int
}

func (f *fakeSync) Insert(ctx context.Context, content string, opts docsync.InsertOptions) (docsync.Result, error) {
	if f.insertFn != nil {
		return f.insertFn(ctx, content, opts)
	}
	return docsync.Result{Kind: docsync.ResultApplied}, nil
}

func (f *fakeSync) Document(ctx context.Context) (markup.Document, error) {
	if f.documentFn != nil {
		return f.documentFn(ctx)
	}
	return markup.NewDocument(), nil
}

func (f *fakeSync) Raw(ctx context.Context) (string, error) {
	if f.rawFn != nil {
		return f.rawFn(ctx)
	}
	return "", nil
}

func (f *fakeSync) QueueStatus() queue.Status { return f.status }

func (f *fakeSync) ClearQueue() int {
	n := f.status.Length
	f.cleared += n
	f.status = queue.Status{State: queue.StateIdle, Items: []queue.Item{}}
	return n
}

type fakeGate struct{ busy bool }

func (g *fakeGate) IsBusy() bool { return g.busy }

type fakeMark struct {
	setFn func(context.Context, bool) error
}

func (m *fakeMark) SetGenerating(ctx context.Context, active bool) error {
	if m.setFn != nil {
		return m.setFn(ctx, active)
	}
	return nil
}

type fakePinger struct {
	pingFn func(context.Context) error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

type fakeSearcher struct {
	searchFn func(context.Context, search.Query) search.Response
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) search.Response {
	return f.searchFn(ctx, q)
}

const testSecret = "test-secret"

func newTestServer(deps Deps, opts HTTPOptions) *HTTPServer {
	if deps.Sync == nil {
		deps.Sync = &fakeSync{}
	}
	if deps.Gate == nil {
		deps.Gate = &fakeGate{}
	}
	return NewHTTPServer(NewService(deps), opts)
}

func issueToken(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims("test-"+role, role, time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func do(t *testing.T, server *HTTPServer, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}
