// Package plain implements feed.Fetcher with a plain HTTP collector,
// for sources that render their markup server side and do not need a
// browser.
package plain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// DefaultTimeout bounds a single page download.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads pages with a Colly collector.
type Fetcher struct {
	cfg           Config
	robots        feed.RobotsPolicy
	baseCollector *colly.Collector
}

// New builds a Fetcher. Robots decisions are delegated to policy, so the
// collector's own robots handling stays off.
func New(cfg Config, policy feed.RobotsPolicy) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, robots: policy, baseCollector: c}
}

// Fetch executes a single HTTP GET and returns the response body as markup.
func (f *Fetcher) Fetch(ctx context.Context, req feed.PageRequest) (feed.PageResult, error) {
	agent := req.UserAgent
	if agent == "" {
		agent = f.cfg.UserAgent
	}
	if f.robots != nil && !f.robots.Allowed(ctx, req.URL, agent) {
		return feed.PageResult{}, fmt.Errorf("%w: %s", feed.ErrFetchDenied, req.URL)
	}

	var (
		result   feed.PageResult
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if agent != "" {
		collector.UserAgent = agent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = feed.PageResult{
			HTML:       string(r.Body),
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return feed.PageResult{}, err
	}
	if result.FinalURL == "" {
		result.FinalURL = req.URL
	}
	return result, nil
}

// Close satisfies feed.Fetcher. The collector holds no long-lived resources.
func (f *Fetcher) Close(_ context.Context) error { return nil }

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
