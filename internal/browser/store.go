package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Scripts are the JavaScript snippets run in the host page. Read and Busy are
// expressions; Write is a function expression called with the new text.
type Scripts struct {
	Read  string
	Write string
	Busy  string
}

// DefaultScripts talk to a bridge object the host page exposes as window.phonesync.
var DefaultScripts = Scripts{
	Read:  `(async () => String(await window.phonesync.readFirstMessage() ?? ""))()`,
	Write: `async (text) => { await window.phonesync.writeFirstMessage(text); return true; }`,
	Busy:  `(() => Boolean(window.phonesync && window.phonesync.isGenerating()))()`,
}

// Store is a docsync.ChatStore and gate.Signal backed by the host page.
type Store struct {
	eval    Evaluator
	scripts Scripts
	timeout time.Duration
}

func NewStore(eval Evaluator, scripts Scripts, timeout time.Duration) *Store {
	if scripts.Read == "" {
		scripts.Read = DefaultScripts.Read
	}
	if scripts.Write == "" {
		scripts.Write = DefaultScripts.Write
	}
	if scripts.Busy == "" {
		scripts.Busy = DefaultScripts.Busy
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{eval: eval, scripts: scripts, timeout: timeout}
}

func (s *Store) DocumentText(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var text string
	if err := s.eval.Evaluate(ctx, s.scripts.Read, &text); err != nil {
		return "", fmt.Errorf("read first message: %w", err)
	}
	return text, nil
}

func (s *Store) SetDocumentText(ctx context.Context, text string) error {
	expression, err := callExpression(s.scripts.Write, text)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var ok bool
	if err := s.eval.Evaluate(ctx, expression, &ok); err != nil {
		return fmt.Errorf("write first message: %w", err)
	}
	if !ok {
		return fmt.Errorf("write first message: host refused the update")
	}
	return nil
}

// IsActive implements gate.Signal.
func (s *Store) IsActive(ctx context.Context) (bool, error) {
	var busy bool
	if err := s.eval.Evaluate(ctx, s.scripts.Busy, &busy); err != nil {
		return false, fmt.Errorf("read generation state: %w", err)
	}
	return busy, nil
}

// callExpression applies fn to text. The argument is a JSON string literal, which is
// also a valid JavaScript string literal.
func callExpression(fn, text string) (string, error) {
	arg, err := json.Marshal(text)
	if err != nil {
		return "", fmt.Errorf("encode argument: %w", err)
	}
	return "(" + fn + ")(" + string(arg) + ")", nil
}
