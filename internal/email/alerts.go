package email

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"phonesync/api/internal/notify"
)

const alertBuffer = 32

type AlertOptions struct {
	To []string
	// MinInterval is the least time between two mails; errors in between are counted
	// and reported with the next mail.
	MinInterval time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// Alerts is a notify.Notifier that mails error-level notifications. Sending happens on
// its own goroutine so Notify never blocks a write.
type Alerts struct {
	mail        *Service
	to          []string
	minInterval time.Duration
	logger      *zap.Logger
	now         func() time.Time

	pending chan notify.Notification
	wg      sync.WaitGroup
	once    sync.Once

	last       time.Time
	suppressed int
}

func NewAlerts(mail *Service, opts AlertOptions) *Alerts {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Alerts{
		mail:        mail,
		to:          opts.To,
		minInterval: opts.MinInterval,
		logger:      opts.Logger,
		now:         opts.Now,
		pending:     make(chan notify.Notification, alertBuffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Alerts) Notify(message string, level notify.Level) {
	if level != notify.LevelError {
		return
	}
	defer func() {
		// Notify after Close is dropped.
		_ = recover()
	}()
	select {
	case a.pending <- notify.Notification{Message: message, Level: level, At: a.now()}:
	default:
		a.logger.Warn("alert buffer full, dropping alert", zap.String("message", message))
	}
}

// Close flushes pending alerts and stops the sender.
func (a *Alerts) Close() {
	a.once.Do(func() { close(a.pending) })
	a.wg.Wait()
}

func (a *Alerts) run() {
	defer a.wg.Done()
	for n := range a.pending {
		if !a.last.IsZero() && n.At.Sub(a.last) < a.minInterval {
			a.suppressed++
			continue
		}
		a.send(n)
	}
}

func (a *Alerts) send(n notify.Notification) {
	var body strings.Builder
	fmt.Fprintf(&body, "%s\r\n\r\nAt: %s\r\n", n.Message, n.At.UTC().Format(time.RFC3339))
	if a.suppressed > 0 {
		fmt.Fprintf(&body, "%d more errors since the previous alert were not mailed.\r\n", a.suppressed)
	}
	if err := a.mail.SendEmail(a.to, "[phonesync] "+n.Message, body.String()); err != nil {
		a.logger.Error("send alert mail", zap.Error(err))
		return
	}
	a.last = n.At
	a.suppressed = 0
}
