package notify

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogMapsLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLog(zap.New(core))

	n.Notify("saved", LevelSuccess)
	n.Notify("still generating", LevelWarning)
	n.Notify("write failed", LevelError)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d level = %s, want %s", i, entry.Level, want[i])
		}
	}
	if entries[2].Message != "write failed" {
		t.Fatalf("unexpected message %q", entries[2].Message)
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	var got []string
	record := NotifierFunc(func(message string, level Level) {
		got = append(got, string(level)+":"+message)
	})

	Fanout{record, nil, record}.Notify("queued", LevelInfo)

	if len(got) != 2 || got[0] != "info:queued" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}
