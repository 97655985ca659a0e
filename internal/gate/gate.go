// Package gate tracks whether the host chat application is generating output. The
// shared buffer must not be rewritten while it is.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultPollInterval = 500 * time.Millisecond

// Signal reports whether the host is producing output right now.
type Signal interface {
	IsActive(ctx context.Context) (bool, error)
}

type SignalFunc func(ctx context.Context) (bool, error)

func (f SignalFunc) IsActive(ctx context.Context) (bool, error) {
	return f(ctx)
}

type Options struct {
	PollInterval time.Duration
	// SignalTimeout bounds a single signal read; a slow signal counts as an error.
	SignalTimeout time.Duration
	Logger        *zap.Logger
	// OnChange is called with the new state whenever IsBusy flips.
	OnChange func(busy bool)
}

type Gate struct {
	signals       []Signal
	pollInterval  time.Duration
	signalTimeout time.Duration
	logger        *zap.Logger
	onChange      func(bool)
	last          atomic.Bool
}

func New(opts Options, signals ...Signal) *Gate {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gate{
		signals:       signals,
		pollInterval:  opts.PollInterval,
		signalTimeout: opts.SignalTimeout,
		logger:        opts.Logger,
		onChange:      opts.OnChange,
	}
}

// IsBusy reports whether any signal says the host is generating. A signal that fails
// counts as idle so writes are never blocked forever.
func (g *Gate) IsBusy() bool {
	busy := g.read()
	if g.last.Swap(busy) != busy && g.onChange != nil {
		g.onChange(busy)
	}
	return busy
}

func (g *Gate) read() bool {
	for i, signal := range g.signals {
		active, err := g.readSignal(signal)
		if err != nil {
			g.logger.Warn("generation signal failed, assuming idle", zap.Int("signal", i), zap.Error(err))
			continue
		}
		if active {
			return true
		}
	}
	return false
}

func (g *Gate) readSignal(signal Signal) (active bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			active, err = false, fmt.Errorf("signal panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), g.signalTimeout)
	defer cancel()
	return signal.IsActive(ctx)
}

// WaitUntilIdle polls until the gate is idle. It returns false when timeout elapses or
// ctx ends first; neither is an error.
func (g *Gate) WaitUntilIdle(ctx context.Context, timeout time.Duration) bool {
	if !g.IsBusy() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !g.IsBusy()
		case <-ticker.C:
			if !g.IsBusy() {
				return true
			}
		}
	}
}

// Flag is a Signal owned by this process and flipped by the host, for example through
// the HTTP API when generation starts and stops.
type Flag struct {
	active atomic.Bool
}

func (f *Flag) Set(active bool) {
	f.active.Store(active)
}

func (f *Flag) Active() bool {
	return f.active.Load()
}

func (f *Flag) IsActive(context.Context) (bool, error) {
	return f.active.Load(), nil
}

// SetGenerating is Set with the signature shared by remote generation marks.
func (f *Flag) SetGenerating(_ context.Context, active bool) error {
	f.Set(active)
	return nil
}
