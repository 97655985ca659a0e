// Package browser reaches the host chat application through the Chrome DevTools
// protocol. It reads and writes the chat's first message and asks the page whether a
// generation is running.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var ErrNoTarget = errors.New("no matching browser tab")

// Evaluator runs a JavaScript expression and decodes its JSON result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// Page is an Evaluator attached to an existing tab of a remote Chrome.
type Page struct {
	tabCtx context.Context
	cancel func()
	logger *zap.Logger
	mu     sync.Mutex
}

// Connect attaches to the first tab whose URL contains match on the Chrome listening at
// devtoolsURL (for example ws://127.0.0.1:9222). An empty match picks the first page.
func Connect(ctx context.Context, devtoolsURL, match string, logger *zap.Logger) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), devtoolsURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancelAll := func() {
		cancelBrowser()
		cancelAlloc()
	}
	// ctx bounds connecting only; the tab outlives it.
	stop := context.AfterFunc(ctx, cancelAll)
	defer stop()

	if err := chromedp.Run(browserCtx); err != nil {
		cancelAll()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		cancelAll()
		return nil, fmt.Errorf("list chrome targets: %w", err)
	}

	for _, target := range targets {
		if target.Type != "page" || !strings.Contains(target.URL, match) {
			continue
		}
		tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithTargetID(target.TargetID))
		if err := chromedp.Run(tabCtx); err != nil {
			cancelTab()
			cancelAll()
			return nil, fmt.Errorf("attach to tab %s: %w", target.URL, err)
		}
		logger.Info("attached to host tab", zap.String("url", target.URL))
		return &Page{
			tabCtx: tabCtx,
			cancel: func() {
				cancelTab()
				cancelAll()
			},
			logger: logger,
		}, nil
	}
	cancelAll()
	return nil, fmt.Errorf("%w: %q", ErrNoTarget, match)
}

// Evaluate runs expression in the tab, awaiting it when it returns a promise. ctx bounds
// the call; the tab itself lives until Close.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, chromedp.Evaluate(expression, out, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *Page) Close() {
	p.cancel()
}
