// Package headless implements the page fetch controller on top of a
// headless Chrome session driven by chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// Defaults for the fetch controller.
const (
	DefaultMaxParallel = 2
	DefaultNavTimeout  = 20 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements feed.Fetcher using chromedp. A fixed-size slot pool
// bounds simultaneous browser contexts; waiters are released in arrival
// order as slots free.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	robots      feed.RobotsPolicy
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher gated by the given robots policy.
func New(cfg Config, robots feed.RobotsPolicy) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		robots:      robots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Fetch navigates to the request URL and returns the rendered markup plus
// the resolved final URL and status. Disallowed targets fail fast without
// consuming a slot.
func (f *Fetcher) Fetch(ctx context.Context, req feed.PageRequest) (feed.PageResult, error) {
	ua := req.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	if f.robots != nil && !f.robots.Allowed(ctx, req.URL, ua) {
		return feed.PageResult{}, fmt.Errorf("%w: %s", feed.ErrFetchDenied, req.URL)
	}

	if err := f.acquire(ctx); err != nil {
		return feed.PageResult{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newNavMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, finalURL, err := f.navigate(tabCtx, req.URL, ua)
	if err != nil {
		return feed.PageResult{}, fmt.Errorf("navigate %s: %w", req.URL, err)
	}

	status, metaURL := meta.snapshot()
	if metaURL != "" {
		finalURL = metaURL
	}
	if finalURL == "" {
		finalURL = req.URL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return feed.PageResult{HTML: html, FinalURL: finalURL, StatusCode: status}, nil
}

// Close tears down the allocator, which closes every open browsing context.
func (f *Fetcher) Close(_ context.Context) error {
	f.allocCancel()
	return nil
}

func (f *Fetcher) navigate(ctx context.Context, url, userAgent string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if userAgent != "" {
				if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Settle time for late XHR-rendered content.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.limiter:
	default:
	}
}

// navMeta records the main document response observed during navigation.
type navMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newNavMeta() *navMeta {
	return &navMeta{}
}

func (m *navMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *navMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}
