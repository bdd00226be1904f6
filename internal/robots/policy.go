// Package robots caches per-origin robots.txt decisions consulted before
// every outbound page fetch.
package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/metrics"
)

// DefaultTTL is how long a per-origin decision stays cached.
const DefaultTTL = time.Hour

// maxRobotsBody bounds how much of a robots.txt response is read.
const maxRobotsBody = 512 * 1024

// Config controls Policy behavior.
type Config struct {
	// Override forces every decision to "allowed" (trusted sources).
	Override bool
	TTL      time.Duration
	Client   *http.Client
}

// Policy is a process-wide robots.txt cache. Transport failures and non-OK
// responses are treated as allowed and cached like any other answer.
type Policy struct {
	override bool
	ttl      time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	fetched time.Time
	// data is nil when the origin allows everything (missing or broken
	// robots.txt).
	data *robotstxt.RobotsData
}

// New constructs a Policy.
func New(cfg Config, logger *zap.Logger) *Policy {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		override: cfg.Override,
		ttl:      cfg.TTL,
		client:   cfg.Client,
		logger:   logger,
		entries:  make(map[string]entry),
	}
}

// Allowed reports whether rawURL may be fetched on behalf of userAgent.
func (p *Policy) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	if p.override {
		return true
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return true
	}
	origin := target.Scheme + "://" + target.Host

	p.mu.Lock()
	cached, ok := p.entries[origin]
	p.mu.Unlock()

	if !ok || time.Since(cached.fetched) >= p.ttl {
		cached = entry{fetched: time.Now(), data: p.fetch(ctx, origin, userAgent)}
		p.mu.Lock()
		p.entries[origin] = cached
		p.mu.Unlock()
	}

	if cached.data == nil {
		metrics.ObserveRobotsDecision(true)
		return true
	}
	path := target.Path
	if path == "" {
		path = "/"
	}
	allowed := cached.data.FindGroup(userAgent).Test(path)
	metrics.ObserveRobotsDecision(allowed)
	return allowed
}

// fetch retrieves and parses {origin}/robots.txt. Any failure yields nil,
// which reads as allow-all.
func (p *Policy) fetch(ctx context.Context, origin, userAgent string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("robots.txt fetch failed", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("robots.txt body close failed", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		p.logger.Warn("robots.txt read failed", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		p.logger.Warn("robots.txt parse failed", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data
}
