// Package headless renders JavaScript-driven pages with a lazily launched
// chromedp browser owned by a single crawl run.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// ErrClosed is returned when a closed Browser is used.
var ErrClosed = errors.New("headless browser closed")

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent string
	// RenderTimeout bounds a single page render.
	RenderTimeout time.Duration
	// ExploreTimeout bounds a whole navigation exploration.
	ExploreTimeout time.Duration
	// ExecPath selects a local Chrome binary; empty uses the default lookup.
	ExecPath string
	// RemoteURL connects to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL string
	// IdleConnections is the in-flight request count considered "mostly idle".
	IdleConnections int
	// IdleDuration is how long the network must stay idle.
	IdleDuration time.Duration
	// MaxIdleWait caps the idle wait for pages that never settle.
	MaxIdleWait time.Duration
	// MaxClicks caps the navigation elements clicked during exploration.
	MaxClicks int
	// SnapshotPrefix is the text prefix length compared to dedupe snapshots.
	SnapshotPrefix int
	// Headers are added to every request the browser makes.
	Headers http.Header
}

func (c Config) withDefaults() Config {
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 25 * time.Second
	}
	if c.ExploreTimeout <= 0 {
		c.ExploreTimeout = 90 * time.Second
	}
	if c.IdleConnections <= 0 {
		c.IdleConnections = 2
	}
	if c.IdleDuration <= 0 {
		c.IdleDuration = 500 * time.Millisecond
	}
	if c.MaxIdleWait <= 0 {
		c.MaxIdleWait = 10 * time.Second
	}
	if c.MaxClicks <= 0 {
		c.MaxClicks = 30
	}
	if c.SnapshotPrefix <= 0 {
		c.SnapshotPrefix = 500
	}
	if c.Headers == nil {
		c.Headers = http.Header{"Accept-Language": {crawler.AcceptLanguage}}
	}
	return c
}

// Browser is a lazily launched headless browser. Page operations are
// serialized; the browser process starts on first use and stops on Close.
type Browser struct {
	cfg    Config
	hasher crawler.Hasher
	logger *zap.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates a Browser without launching anything.
func New(cfg Config, hasher crawler.Hasher, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		cfg:    cfg.withDefaults(),
		hasher: hasher,
		logger: logger,
	}
}

// Close shuts the browser down if it was started. It is safe to call repeatedly.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
		b.browserCtx = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	return nil
}

// Started reports whether the browser process has been launched.
func (b *Browser) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browserCtx != nil
}

// ensure launches the browser on first use. Callers must hold b.mu.
func (b *Browser) ensure() (context.Context, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if b.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if b.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Debug("headless browser started", zap.Bool("remote", b.cfg.RemoteURL != ""))
	return browserCtx, nil
}

// tab opens a new tab bound to ctx and the given timeout. Callers must hold b.mu.
func (b *Browser) tab(ctx context.Context, timeout time.Duration) (context.Context, func(), error) {
	browserCtx, err := b.ensure()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, timeoutCancel)
	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}, nil
}

// Render navigates to url, waits for the network to go mostly idle and the
// document to finish loading, then returns the live DOM serialization.
func (b *Browser) Render(ctx context.Context, url string) (crawler.FetchResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tabCtx, done, err := b.tab(ctx, b.cfg.RenderTimeout)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer done()

	meta := newResponseMeta()
	idle := newNetworkIdle()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		meta.captureEvent(ev)
		idle.captureEvent(ev)
	})

	start := time.Now()
	var html, finalURL string
	err = chromedp.Run(tabCtx,
		b.networkSetupAction(),
		chromedp.Navigate(url),
		b.waitSettled(idle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", url, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (b *Browser) waitSettled(idle *networkIdle) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := idle.wait(ctx, b.cfg.IdleConnections, b.cfg.IdleDuration, b.cfg.MaxIdleWait); err != nil {
			return err
		}
		return waitDocumentComplete(ctx, 100*time.Millisecond)
	})
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func waitDocumentComplete(ctx context.Context, interval time.Duration) error {
	for {
		var state string
		if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
			return fmt.Errorf("read document state: %w", err)
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for document complete: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers := m.status, cloneHeader(m.headers)
	m.mu.RUnlock()

	url := finalURL
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
