// Package headless renders JavaScript-heavy competitor pages in Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 2 * time.Second
)

// scrollToEnd triggers lazy-loaded sections (pricing tables, logo walls)
// before the DOM is captured.
const scrollToEnd = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is the pause after the body is ready and again after scrolling.
	Settle time.Duration
	// ExecPath overrides the Chrome binary; empty uses the default lookup.
	ExecPath string
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.Settle <= 0 {
		c.Settle = defaultSettle
	}
	return c
}

// Fetcher implements monitor.Fetcher with one shared Chrome process and a
// fresh tab per page.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	browser     context.Context
	stopBrowser context.CancelFunc
}

// NewChromedp prepares the Chrome allocator. The browser starts lazily on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless: max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	browser, stop := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, browser: browser, stopBrowser: stop}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close shuts down the browser process.
func (f *Fetcher) Close() {
	f.stopBrowser()
}

// Fetch opens a tab, renders the page, scrolls once to load deferred
// content and returns the resulting DOM.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return monitor.FetchResponse{}, err
	}
	defer f.release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stopOnParent := context.AfterFunc(ctx, cancel)
	defer stopOnParent()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	var html, location string
	start := time.Now()
	err := chromedp.Run(tab,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Evaluate(scrollToEnd, nil),
		chromedp.Sleep(f.cfg.Settle/2),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return monitor.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, location)
	return monitor.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepare enables network events and applies the user agent and any extra
// request headers to the tab.
func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	if err := f.tabs.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a headless tab: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.tabs != nil {
		f.tabs.Release(1)
	}
}

func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
