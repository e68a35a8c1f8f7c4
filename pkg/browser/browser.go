// Package browser renders pages in an isolated stealth headless Chrome for
// platforms that block plain HTTP clients.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// Renderer returns the rendered HTML of a page.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// Cookie is a cookie set on the page before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Request describes one page render.
type Request struct {
	URL string
	// WaitFor lists selectors that signal the content has loaded; the first
	// to appear ends the wait. The wait is bounded by WaitTimeout.
	WaitFor     []string
	Cookies     []Cookie
	WaitTimeout time.Duration
	// ScrollSteps scrolls the page this many times to trigger lazy content.
	ScrollSteps int
	// Settle is a fixed pause before reading the DOM.
	Settle time.Duration
	// SnapshotName names the debug snapshot, when capture is enabled.
	SnapshotName string
}

// Session launches one browser per Render call.
type Session struct {
	logger   *slog.Logger
	sink     SnapshotSink
	bin      string
	ua       string
	width    int
	height   int
	headless bool
	debug    bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithBin sets the browser binary; empty means auto-detect or download.
func WithBin(path string) Option {
	return func(s *Session) { s.bin = path }
}

// WithHeadless toggles headless mode.
func WithHeadless(enabled bool) Option {
	return func(s *Session) { s.headless = enabled }
}

// WithSnapshots enables debug snapshot capture into sink.
func WithSnapshots(sink SnapshotSink) Option {
	return func(s *Session) {
		s.sink = sink
		s.debug = sink != nil
	}
}

// WithViewport sets the emulated viewport.
func WithViewport(width, height int) Option {
	return func(s *Session) { s.width, s.height = width, height }
}

// New creates a Session.
func New(opts ...Option) *Session {
	s := &Session{
		logger:   slog.Default(),
		ua:       httpcache.UserAgent,
		width:    1366,
		height:   900,
		headless: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Render launches a browser, loads req.URL in a fresh incognito context and
// returns the page HTML. Every resource it acquires is released before it
// returns, on success, error and cancellation alike.
func (s *Session) Render(ctx context.Context, req Request) (html string, err error) {
	if req.WaitTimeout <= 0 {
		req.WaitTimeout = 20 * time.Second
	}

	l := launcher.New().Context(ctx).Headless(s.headless)
	if s.bin != "" {
		l = l.Bin(s.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("%w: launch browser: %w", profile.ErrNetwork, err)
	}
	defer l.Cleanup()
	defer l.Kill()

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return "", fmt.Errorf("%w: connect browser: %w", profile.ErrNetwork, err)
	}
	defer closeQuietly(ctx, s.logger, "browser", b.Close)

	incognito, err := b.Incognito()
	if err != nil {
		return "", fmt.Errorf("%w: incognito context: %w", profile.ErrNetwork, err)
	}
	defer closeQuietly(ctx, s.logger, "incognito context", incognito.Close)

	page, err := stealth.Page(incognito)
	if err != nil {
		return "", fmt.Errorf("%w: open page: %w", profile.ErrNetwork, err)
	}
	defer closeQuietly(ctx, s.logger, "page", page.Close)
	page = page.Context(ctx)

	if err := s.prepare(page, req); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "rendering page", "url", req.URL)
	if err := page.Navigate(req.URL); err != nil {
		return "", fmt.Errorf("navigate %s: %w", req.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	s.waitForContent(ctx, page, req)

	if err := autoScroll(ctx, page, req.ScrollSteps); err != nil {
		return "", err
	}
	if err := sleep(ctx, req.Settle); err != nil {
		return "", err
	}

	html, err = page.HTML()
	if err != nil {
		return "", fmt.Errorf("read DOM: %w", err)
	}

	if s.debug {
		s.snapshot(ctx, page, req, html)
	}
	return html, nil
}

func (s *Session) prepare(page *rod.Page, req Request) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.width,
		Height:            s.height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.ua,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if len(req.Cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(req.Cookies))
	for _, c := range req.Cookies {
		params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: "/"})
	}
	if err := page.SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// waitForContent waits for the first of req.WaitFor to appear, bounded by
// req.WaitTimeout. A miss is logged; extraction still runs on what loaded.
func (s *Session) waitForContent(ctx context.Context, page *rod.Page, req Request) {
	if len(req.WaitFor) == 0 {
		return
	}
	bounded := page.Timeout(req.WaitTimeout)
	defer bounded.CancelTimeout()

	race := bounded.Race()
	for _, sel := range req.WaitFor {
		race = race.Element(sel)
	}
	if _, err := race.Do(); err != nil {
		s.logger.WarnContext(ctx, "content selectors did not appear", "url", req.URL, "wait", req.WaitTimeout, "error", err)
	}
}

func autoScroll(ctx context.Context, page *rod.Page, steps int) error {
	for range steps {
		if _, err := page.Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := sleep(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) snapshot(ctx context.Context, page *rod.Page, req Request, html string) {
	png, err := page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		s.logger.WarnContext(ctx, "screenshot failed", "url", req.URL, "error", err)
	}
	name := req.SnapshotName
	if name == "" {
		name = req.URL
	}
	if err := s.sink.Save(ctx, name, []byte(html), png); err != nil {
		s.logger.WarnContext(ctx, "snapshot save failed", "name", name, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "snapshot saved", "name", name)
}

func closeQuietly(ctx context.Context, logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.DebugContext(ctx, "close failed", "resource", what, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
