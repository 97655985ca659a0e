package browser

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

type fakeEvaluator struct {
	expressions []string
	EvalFn      func(expression string) (any, error)
}

func (f *fakeEvaluator) Evaluate(_ context.Context, expression string, out any) error {
	f.expressions = append(f.expressions, expression)
	value, err := f.EvalFn(expression)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func TestDocumentTextRunsReadScript(t *testing.T) {
	eval := &fakeEvaluator{EvalFn: func(string) (any, error) { return "[Heading|Alice|t1|Cats|x]", nil }}
	store := NewStore(eval, Scripts{Read: "readIt()"}, time.Second)

	text, err := store.DocumentText(context.Background())
	if err != nil {
		t.Fatalf("DocumentText() error = %v", err)
	}
	if text != "[Heading|Alice|t1|Cats|x]" || eval.expressions[0] != "readIt()" {
		t.Fatalf("text = %q, expressions = %v", text, eval.expressions)
	}
}

func TestSetDocumentTextQuotesArgument(t *testing.T) {
	eval := &fakeEvaluator{EvalFn: func(string) (any, error) { return true, nil }}
	store := NewStore(eval, Scripts{Write: "(t) => save(t)"}, time.Second)

	text := "line \"one\"\n</script> end"
	if err := store.SetDocumentText(context.Background(), text); err != nil {
		t.Fatalf("SetDocumentText() error = %v", err)
	}
	got := eval.expressions[0]
	if !strings.HasPrefix(got, "((t) => save(t))(\"") {
		t.Fatalf("unexpected expression %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("argument must be escaped: %q", got)
	}

	arg := strings.TrimSuffix(strings.TrimPrefix(got, "((t) => save(t))("), ")")
	var decoded string
	if err := json.Unmarshal([]byte(arg), &decoded); err != nil || decoded != text {
		t.Fatalf("argument did not round-trip: %q, %v", decoded, err)
	}
}

func TestSetDocumentTextRefused(t *testing.T) {
	eval := &fakeEvaluator{EvalFn: func(string) (any, error) { return false, nil }}
	store := NewStore(eval, Scripts{}, time.Second)
	if err := store.SetDocumentText(context.Background(), "x"); err == nil {
		t.Fatal("expected error when the host refuses the write")
	}
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		err     error
		want    bool
		wantErr bool
	}{
		{name: "generating", value: true, want: true},
		{name: "idle", value: false, want: false},
		{name: "page error", err: errors.New("ReferenceError: phonesync is not defined"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{EvalFn: func(string) (any, error) { return tt.value, tt.err }}
			got, err := NewStore(eval, Scripts{}, time.Second).IsActive(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsActive() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultScriptsFillBlanks(t *testing.T) {
	store := NewStore(&fakeEvaluator{}, Scripts{Busy: "busy()"}, 0)
	if store.scripts.Read != DefaultScripts.Read || store.scripts.Write != DefaultScripts.Write {
		t.Fatal("blank scripts should fall back to defaults")
	}
	if store.scripts.Busy != "busy()" {
		t.Fatal("explicit script was overwritten")
	}
	if store.timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", store.timeout)
	}
}

func TestConnectIntegration(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("PHONESYNC_TEST_CHROME_URL"))
	if url == "" {
		t.Skip("PHONESYNC_TEST_CHROME_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := Connect(ctx, url, "", nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer page.Close()

	var sum int
	if err := page.Evaluate(ctx, "Promise.resolve(40 + 2)", &sum); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if sum != 42 {
		t.Fatalf("Evaluate() = %d, want 42", sum)
	}
}
