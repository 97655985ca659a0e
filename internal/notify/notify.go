// Package notify delivers short status messages ("toasts") to whoever is watching the
// phone UI.
package notify

import (
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Message string    `json:"message"`
	Level   Level     `json:"level"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(message string, level Level)
}

type NotifierFunc func(message string, level Level)

func (f NotifierFunc) Notify(message string, level Level) {
	f(message, level)
}

// Log writes notifications to a zap logger at the matching level.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("toast")}
}

func (l *Log) Notify(message string, level Level) {
	switch level {
	case LevelError:
		l.logger.Error(message)
	case LevelWarning:
		l.logger.Warn(message)
	default:
		l.logger.Info(message, zap.String("level", string(level)))
	}
}

// Fanout forwards every notification to each non-nil notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(message string, level Level) {
	for _, n := range f {
		if n != nil {
			n.Notify(message, level)
		}
	}
}

type nop struct{}

func (nop) Notify(string, Level) {}

// Nop discards notifications.
var Nop Notifier = nop{}
