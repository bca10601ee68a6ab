package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common"
)

// Page is a rendered page. Implementations must be safe to use from the
// single task goroutine that opened them; they are not shared.
type Page interface {
	// HTML returns the current rendered document.
	HTML(ctx context.Context) (string, error)

	// WaitVisible blocks until the selector is present and visible, or the
	// context/timeout expires.
	WaitVisible(ctx context.Context, selector string) error

	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error

	// Close releases the page and its browsing context.
	Close() error
}

// Fetcher opens rendered pages. Each Open call gets its own isolated
// browsing context so concurrent extractions never share session state.
type Fetcher interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// RodFetcher implements Fetcher on a shared rod browser, one incognito
// context per opened page.
type RodFetcher struct {
	browser *rod.Browser
	timeout time.Duration
}

// NewRodFetcher connects to the browser and returns a fetcher. Timeout is
// the per-navigation deadline; zero means 30s.
func NewRodFetcher(timeout time.Duration) (*RodFetcher, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	return &RodFetcher{
		browser: browser,
		timeout: timeout,
	}, nil
}

// Open navigates to the URL in a fresh incognito context and waits for the
// document to load.
func (f *RodFetcher) Open(ctx context.Context, url string) (Page, error) {
	incognito, err := f.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("creating incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}

	p := &rodPage{page: page, timeout: f.timeout}

	navCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		p.Close()
		return nil, classifyFetchErr(url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		p.Close()
		return nil, classifyFetchErr(url, err)
	}

	return p, nil
}

// Close shuts the shared browser down.
func (f *RodFetcher) Close() error {
	return f.browser.Close()
}

type rodPage struct {
	page    *rod.Page
	timeout time.Duration
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("reading page html: %w", err)
	}
	return html, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	el, err := p.page.Context(waitCtx).Element(selector)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return common.ErrFetchTimeout
		}
		return common.ErrStructuralMiss
	}
	if err := el.WaitVisible(); err != nil {
		return common.ErrStructuralMiss
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	el, err := p.page.Context(clickCtx).Element(selector)
	if err != nil {
		return common.ErrStructuralMiss
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return common.ErrStructuralMiss
	}
	return nil
}

func (p *rodPage) Close() error {
	if err := p.page.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing page")
		return err
	}
	return nil
}

func classifyFetchErr(url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &common.TransientFetchError{URL: url, Err: common.ErrFetchTimeout}
	}
	return &common.TransientFetchError{URL: url, Err: err}
}
