package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// BrowserOptions configures the Chromium instance behind PlaywrightLauncher.
type BrowserOptions struct {
	Headless       bool     `yaml:"headless"`
	ExecutablePath string   `yaml:"executable_path"`
	Args           []string `yaml:"args"`
}

const defaultOperationTimeout = 30 * time.Second

var defaultBrowserArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--no-first-run",
	"--disable-default-apps",
	"--disable-extensions",
}

// PlaywrightLauncher reuses one Chromium process and opens a fresh browser
// context for every session.
type PlaywrightLauncher struct {
	opts BrowserOptions

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightLauncher creates a launcher. The browser starts lazily on
// the first Launch.
func NewPlaywrightLauncher(opts BrowserOptions) *PlaywrightLauncher {
	if len(opts.Args) == 0 {
		opts.Args = defaultBrowserArgs
	}
	return &PlaywrightLauncher{opts: opts}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, fp Fingerprint) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	browser, err := l.browserLocked()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(fp.UserAgent),
		Viewport:         &playwright.Size{Width: fp.Width, Height: fp.Height},
		Locale:           playwright.String(fp.Locale()),
		ExtraHttpHeaders: fp.Headers(),
		IsMobile:         playwright.Bool(fp.Mobile),
		HasTouch:         playwright.Bool(fp.Mobile),
	})
	if err != nil {
		// A dead browser fails every context; drop it so the retry relaunches.
		l.stopLocked()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(fp.StealthScript())}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to add stealth script: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &playwrightSession{bctx: bctx, page: page}, nil
}

func (l *PlaywrightLauncher) browserLocked() (playwright.Browser, error) {
	if l.browser != nil && l.browser.IsConnected() {
		return l.browser, nil
	}
	l.stopLocked()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     l.opts.Args,
	}
	if l.opts.ExecutablePath != "" {
		launch.ExecutablePath = playwright.String(l.opts.ExecutablePath)
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	l.pw = pw
	l.browser = browser
	return browser, nil
}

func (l *PlaywrightLauncher) stopLocked() {
	if l.browser != nil {
		_ = l.browser.Close()
		l.browser = nil
	}
	if l.pw != nil {
		_ = l.pw.Stop()
		l.pw = nil
	}
}

// Close shuts the browser down.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return nil
}

// playwrightSession serializes calls because the challenge watchers poll
// the page from several goroutines.
type playwrightSession struct {
	mu   sync.Mutex
	bctx playwright.BrowserContext
	page playwright.Page
}

func (s *playwrightSession) Navigate(ctx context.Context, url string, opts NavigateOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: waitUntil(opts.WaitUntil),
		Timeout:   millis(boundedTimeout(ctx, opts.Timeout)),
	}
	if opts.Referer != "" {
		gotoOpts.Referer = playwright.String(opts.Referer)
	}

	resp, err := s.page.Goto(url, gotoOpts)
	if err != nil {
		return 0, err
	}
	if resp == nil {
		// Same-document navigations carry no response.
		return 200, nil
	}
	return resp.Status(), nil
}

func (s *playwrightSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.Content()
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.Title()
}

func (s *playwrightSession) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.Evaluate(expression)
}

func (s *playwrightSession) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Locators wait outside the session lock; the wait can last seconds.
	return s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: millis(boundedTimeout(ctx, timeout)),
	})
}

func (s *playwrightSession) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.URL()
}

func (s *playwrightSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.page.Close(); err != nil {
		_ = s.bctx.Close()
		return fmt.Errorf("failed to close page: %w", err)
	}
	return s.bctx.Close()
}

func waitUntil(state WaitState) *playwright.WaitUntilState {
	switch state {
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

// boundedTimeout shortens d to the context deadline when that comes first.
func boundedTimeout(ctx context.Context, d time.Duration) time.Duration {
	if d <= 0 {
		d = defaultOperationTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
