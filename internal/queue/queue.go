// Package queue holds insertions that arrived while the host was generating and
// applies them one at a time, oldest first, once it is idle again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"phonesync/api/internal/util"
)

const DefaultDrainInterval = time.Second

type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

var ErrClosed = errors.New("queue closed")

type Item struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// ApplyFunc writes one item. An error drops the item.
type ApplyFunc func(ctx context.Context, item Item) error

type Gate interface {
	IsBusy() bool
}

// Hooks observe the queue without taking part in it. Every field is optional.
type Hooks struct {
	Applied func(item Item)
	Failed  func(item Item, err error)
	// Evicted is called when MaxSize forces the oldest item out.
	Evicted func(item Item)
	Depth   func(n int)
}

type Options struct {
	DrainInterval time.Duration
	// MaxSize caps the number of pending items; 0 means unbounded.
	MaxSize int
	Logger  *zap.Logger
	Hooks   Hooks
	Now     func() time.Time
}

type Status struct {
	State  State  `json:"state"`
	Length int    `json:"length"`
	Items  []Item `json:"items"`
}

type Queue struct {
	gate     Gate
	apply    ApplyFunc
	interval time.Duration
	maxSize  int
	logger   *zap.Logger
	hooks    Hooks
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	items  []Item
	state  State
	stop   chan struct{}
	closed bool
}

func New(gate Gate, apply ApplyFunc, opts Options) *Queue {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		gate:     gate,
		apply:    apply,
		interval: opts.DrainInterval,
		maxSize:  opts.MaxSize,
		logger:   opts.Logger,
		hooks:    opts.Hooks,
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
}

// Enqueue appends payload and starts draining if the queue was idle.
func (q *Queue) Enqueue(payload string) (Item, error) {
	item := Item{ID: util.NewID("ins"), Payload: payload, CreatedAt: q.now().UTC()}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Item{}, ErrClosed
	}
	var evicted []Item
	if q.maxSize > 0 {
		for len(q.items) >= q.maxSize {
			evicted = append(evicted, q.items[0])
			q.items = q.items[1:]
		}
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	if q.state == StateIdle {
		q.start()
	}
	q.mu.Unlock()

	for _, old := range evicted {
		q.logger.Warn("queue full, dropping oldest insertion", zap.String("item", old.ID), zap.Int("max", q.maxSize))
		if q.hooks.Evicted != nil {
			q.hooks.Evicted(old)
		}
	}
	q.reportDepth(depth)
	q.logger.Debug("insertion queued", zap.String("item", item.ID), zap.Int("depth", depth))
	return item, nil
}

// start must be called with q.mu held.
func (q *Queue) start() {
	stop := make(chan struct{})
	q.stop = stop
	q.state = StateDraining
	q.wg.Add(1)
	go q.run(stop)
}

func (q *Queue) run(stop chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !q.tick(stop) {
				return
			}
		}
	}
}

// tick handles one drain step and reports whether the loop should keep running.
func (q *Queue) tick(stop chan struct{}) bool {
	q.mu.Lock()
	if q.stop != stop {
		q.mu.Unlock()
		return false
	}
	if len(q.items) == 0 {
		q.state = StateIdle
		q.stop = nil
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	if q.gate != nil && q.gate.IsBusy() {
		return true
	}

	q.mu.Lock()
	if q.stop != stop || len(q.items) == 0 {
		q.mu.Unlock()
		return q.stop == stop
	}
	item := q.items[0]
	q.items = q.items[1:]
	depth := len(q.items)
	q.mu.Unlock()
	q.reportDepth(depth)

	if err := q.applyItem(item); err != nil {
		q.logger.Error("queued insertion failed, dropping", zap.String("item", item.ID), zap.Error(err))
		if q.hooks.Failed != nil {
			q.hooks.Failed(item, err)
		}
		return true
	}
	q.logger.Debug("queued insertion applied", zap.String("item", item.ID), zap.Int("remaining", depth))
	if q.hooks.Applied != nil {
		q.hooks.Applied(item)
	}
	return true
}

func (q *Queue) applyItem(item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
	}()
	return q.apply(q.ctx, item)
}

// Clear drops every pending item and stops the drain loop. An item already being
// applied finishes.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.halt()
	q.mu.Unlock()
	q.reportDepth(0)
	if n > 0 {
		q.logger.Info("insertion queue cleared", zap.Int("discarded", n))
	}
	return n
}

// halt must be called with q.mu held.
func (q *Queue) halt() {
	if q.stop != nil {
		close(q.stop)
		q.stop = nil
	}
	q.state = StateIdle
}

// Close stops the loop, cancels an in-flight apply and waits for it to return. Pending
// items are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.halt()
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Item, len(q.items))
	copy(items, q.items)
	return Status{State: q.state, Length: len(items), Items: items}
}

func (q *Queue) reportDepth(n int) {
	if q.hooks.Depth != nil {
		q.hooks.Depth(n)
	}
}
