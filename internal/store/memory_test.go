package store

import (
	"context"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	m := NewMemory("seed")
	ctx := context.Background()

	if got, _ := m.DocumentText(ctx); got != "seed" {
		t.Fatalf("DocumentText() = %q, want seed", got)
	}
	if err := m.SetDocumentText(ctx, "next"); err != nil {
		t.Fatalf("SetDocumentText() error = %v", err)
	}
	if got, _ := m.DocumentText(ctx); got != "next" {
		t.Fatalf("DocumentText() = %q, want next", got)
	}
}
