package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"phonesync/api/internal/gate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu       sync.Mutex
	payloads []string
	failOn   map[string]error
	done     chan string
}

func newRecorder() *recorder {
	return &recorder{failOn: map[string]error{}, done: make(chan string, 16)}
}

func (r *recorder) apply(_ context.Context, item Item) error {
	if err := r.failOn[item.Payload]; err != nil {
		r.done <- item.Payload
		return err
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, item.Payload)
	r.mu.Unlock()
	r.done <- item.Payload
	return nil
}

func (r *recorder) applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

// manual returns a queue whose ticker never fires so tests drive ticks directly.
func manual(t *testing.T, g Gate, apply ApplyFunc, opts Options) *Queue {
	t.Helper()
	opts.DrainInterval = time.Hour
	opts.Logger = zaptest.NewLogger(t)
	q := New(g, apply, opts)
	t.Cleanup(q.Close)
	return q
}

func gateFor(flag *gate.Flag) Gate {
	return gate.New(gate.Options{}, flag)
}

func step(q *Queue) bool {
	q.mu.Lock()
	stop := q.stop
	q.mu.Unlock()
	return q.tick(stop)
}

func mustEnqueue(t *testing.T, q *Queue, payload string) Item {
	t.Helper()
	item, err := q.Enqueue(payload)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return item
}

func TestDrainIsFIFO(t *testing.T) {
	rec := newRecorder()
	q := manual(t, gateFor(&gate.Flag{}), rec.apply, Options{})

	for _, p := range []string{"a", "b", "c"} {
		mustEnqueue(t, q, p)
	}
	if q.State() != StateDraining {
		t.Fatalf("expected draining after enqueue, got %s", q.State())
	}
	for i := 0; i < 3; i++ {
		if !step(q) {
			t.Fatalf("tick %d stopped early", i)
		}
	}
	if step(q) {
		t.Fatal("expected loop to stop on empty queue")
	}
	if q.State() != StateIdle {
		t.Fatalf("expected idle after drain, got %s", q.State())
	}
	got := rec.applied()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("applied = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied = %v, want %v", got, want)
		}
	}
}

func TestBusyGateSkipsTick(t *testing.T) {
	rec := newRecorder()
	flag := &gate.Flag{}
	flag.Set(true)
	q := manual(t, gateFor(flag), rec.apply, Options{})

	mustEnqueue(t, q, "a")
	if !step(q) {
		t.Fatal("busy tick should keep the loop alive")
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("expected item to stay queued, len = %d", got)
	}

	flag.Set(false)
	step(q)
	if got := rec.applied(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("applied = %v", got)
	}
}

func TestFailedItemIsDropped(t *testing.T) {
	rec := newRecorder()
	rec.failOn["bad"] = errors.New("write rejected")
	var failed []string
	q := manual(t, nil, rec.apply, Options{Hooks: Hooks{
		Failed: func(item Item, err error) { failed = append(failed, item.Payload) },
	}})

	mustEnqueue(t, q, "bad")
	mustEnqueue(t, q, "good")
	step(q)
	step(q)

	if got := rec.applied(); len(got) != 1 || got[0] != "good" {
		t.Fatalf("applied = %v", got)
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Fatalf("failed = %v", failed)
	}
	if q.Len() != 0 {
		t.Fatalf("expected failed item to be gone, len = %d", q.Len())
	}
}

func TestPanickingApplyIsDropped(t *testing.T) {
	calls := 0
	q := manual(t, nil, func(context.Context, Item) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}, Options{})

	mustEnqueue(t, q, "a")
	mustEnqueue(t, q, "b")
	step(q)
	step(q)
	if calls != 2 || q.Len() != 0 {
		t.Fatalf("calls = %d, len = %d", calls, q.Len())
	}
}

func TestClearDiscardsAndStops(t *testing.T) {
	rec := newRecorder()
	flag := &gate.Flag{}
	flag.Set(true)
	q := manual(t, gateFor(flag), rec.apply, Options{})

	mustEnqueue(t, q, "a")
	mustEnqueue(t, q, "b")
	if n := q.Clear(); n != 2 {
		t.Fatalf("Clear() = %d, want 2", n)
	}
	status := q.Snapshot()
	if status.State != StateIdle || status.Length != 0 {
		t.Fatalf("unexpected status after clear: %+v", status)
	}
	if len(rec.applied()) != 0 {
		t.Fatal("cleared items must never be applied")
	}

	flag.Set(false)
	mustEnqueue(t, q, "c")
	step(q)
	if got := rec.applied(); len(got) != 1 || got[0] != "c" {
		t.Fatalf("applied after restart = %v", got)
	}
}

func TestMaxSizeEvictsOldest(t *testing.T) {
	flag := &gate.Flag{}
	flag.Set(true)
	var evicted []string
	q := manual(t, gateFor(flag), func(context.Context, Item) error { return nil }, Options{
		MaxSize: 2,
		Hooks:   Hooks{Evicted: func(item Item) { evicted = append(evicted, item.Payload) }},
	})

	mustEnqueue(t, q, "a")
	mustEnqueue(t, q, "b")
	mustEnqueue(t, q, "c")

	status := q.Snapshot()
	if status.Length != 2 || status.Items[0].Payload != "b" || status.Items[1].Payload != "c" {
		t.Fatalf("unexpected items: %+v", status.Items)
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v", evicted)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New(nil, func(context.Context, Item) error { return nil }, Options{DrainInterval: time.Hour})
	q.Close()
	if _, err := q.Enqueue("a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue() error = %v, want ErrClosed", err)
	}
}

func TestDrainLoopRunsOnTicker(t *testing.T) {
	rec := newRecorder()
	q := New(gateFor(&gate.Flag{}), rec.apply, Options{DrainInterval: 5 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	defer q.Close()

	mustEnqueue(t, q, "a")
	mustEnqueue(t, q, "b")
	for _, want := range []string{"a", "b"} {
		select {
		case got := <-rec.done:
			if got != want {
				t.Fatalf("drained %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("queue never returned to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
