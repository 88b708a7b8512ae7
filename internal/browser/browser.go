// Package browser opens listing pages in Chrome for the operator
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/relist-ops/relist/internal/config"
)

// Browser wraps chromedp and keeps one tab per opened page
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      BrowserConfig
	tabs        []context.CancelFunc
}

// BrowserConfig holds browser settings
type BrowserConfig struct {
	Headless     bool
	Timeout      time.Duration
	ProfileDir   string // Chrome user data dir so the marketplace session survives
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	WaitCallback func() error // Called after the tabs are open, e.g. to wait for ENTER
}

// DefaultConfig returns sensible default browser settings
func DefaultConfig() BrowserConfig {
	return BrowserConfig{
		Headless:     false,
		Timeout:      30 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1440,
		WindowHeight: 900,
	}
}

// FromConfig maps the browser section of the config file.
func FromConfig(cfg config.BrowserConfig) BrowserConfig {
	bc := DefaultConfig()
	bc.Headless = cfg.Headless
	bc.ProfileDir = cfg.ProfileDir
	if cfg.TimeoutSec > 0 {
		bc.Timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return bc
}

// TabResult is the outcome of opening one page
type TabResult struct {
	Page  Page
	Title string
	Err   error
}

// New creates a new Browser instance
func New(cfg BrowserConfig) (*Browser, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing Chrome fails before any tab.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      cfg,
	}, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	for _, cancel := range b.tabs {
		cancel()
	}
	b.tabs = nil
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// OpenTabs opens each page in its own tab, first page in the initial tab.
// A page that fails to load is reported and does not stop the rest.
func (b *Browser) OpenTabs(ctx context.Context, pages []Page) []TabResult {
	results := make([]TabResult, 0, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			results = append(results, TabResult{Page: p, Err: err})
			continue
		}

		tabCtx := b.ctx
		if i > 0 {
			var cancel context.CancelFunc
			tabCtx, cancel = chromedp.NewContext(b.ctx)
			b.tabs = append(b.tabs, cancel)
		}
		title, err := b.navigate(tabCtx, p.URL)
		results = append(results, TabResult{Page: p, Title: title, Err: err})
	}
	return results
}

func (b *Browser) navigate(tabCtx context.Context, url string) (string, error) {
	// Create the tab before applying the timeout; a tab first used under a
	// deadline is closed when the deadline passes.
	if err := chromedp.Run(tabCtx); err != nil {
		return "", fmt.Errorf("failed to open tab: %w", err)
	}

	ctx, cancel := context.WithTimeout(tabCtx, b.config.Timeout)
	defer cancel()

	var title string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", url, err)
	}
	return title, nil
}

// Wait blocks on the configured callback, keeping the tabs open until it
// returns.
func (b *Browser) Wait() error {
	if b.config.WaitCallback == nil {
		return nil
	}
	return b.config.WaitCallback()
}
