// Package browsersession owns the one headless browser bound to one
// authenticated proxy that a worker drives through the anti-bot gauntlet.
package browsersession

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ProxyCreds is a parsed "host:port:user:pass" proxy address.
type ProxyCreds struct {
	Server   string
	Username string
	Password string
}

// ParseProxyAddress parses the Proxy.Address format used throughout the
// store: "host:port:user:pass".
func ParseProxyAddress(address string) (ProxyCreds, error) {
	parts := strings.SplitN(address, ":", 4)
	if len(parts) != 4 {
		return ProxyCreds{}, fmt.Errorf("browsersession: malformed proxy address %q", address)
	}
	return ProxyCreds{
		Server:   fmt.Sprintf("http://%s:%s", parts[0], parts[1]),
		Username: parts[2],
		Password: parts[3],
	}, nil
}

// Session wraps one Playwright browser/context/page triple bound to one
// proxy and one X display.
type Session struct {
	pw           *playwright.Playwright
	browser      playwright.Browser
	context      playwright.BrowserContext
	page         playwright.Page
	proxyAddress string
}

// Launcher constructs Sessions with shared launch options.
type Launcher struct {
	Headless           bool
	DebugScreenshots   bool
	DebugScreenshotDir string
}

// Launch starts a fresh Playwright instance, browser, context, and page
// bound to proxyAddress, pinned to the given X display.
func (l *Launcher) Launch(display, proxyAddress string) (*Session, error) {
	creds, err := ParseProxyAddress(proxyAddress)
	if err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browsersession: starting playwright: %w", err)
	}

	headless := l.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Proxy: &playwright.Proxy{
			Server:   creds.Server,
			Username: playwright.String(creds.Username),
			Password: playwright.String(creds.Password),
		},
		Env: map[string]string{"DISPLAY": display},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("browsersession: launching browser: %w", err)
	}

	context, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("browsersession: creating context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("browsersession: opening page: %w", err)
	}

	return &Session{
		pw:           pw,
		browser:      browser,
		context:      context,
		page:         page,
		proxyAddress: proxyAddress,
	}, nil
}

// Navigate loads url, failing if it does not settle within timeout.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

// Content returns the current page's HTML. Satisfies pagestate.Page.
func (s *Session) Content() (string, error) {
	return s.page.Content()
}

// URL returns the current page's address. Satisfies pagestate.Page.
func (s *Session) URL() string {
	return s.page.URL()
}

// Page returns the underlying Playwright page for collaborators (the
// page-state detector, the CAPTCHA solver) that need direct DOM access
// beyond what pagestate.Page exposes.
func (s *Session) Page() playwright.Page {
	return s.page
}

// ProxyAddress returns the address this session was launched with.
func (s *Session) ProxyAddress() string {
	return s.proxyAddress
}

// DebugScreenshot writes a PNG of the current page to DebugScreenshotDir,
// named by label and the current time, when debug screenshots are
// enabled. It is a no-op (and never returns an error) when disabled,
// since it exists purely for operator diagnosis.
func (l *Launcher) DebugScreenshot(s *Session, label string) {
	if !l.DebugScreenshots {
		return
	}
	path := fmt.Sprintf("%s/%s-%d.png", l.DebugScreenshotDir, label, time.Now().UnixNano())
	_, _ = s.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
}

// Close tears down the page, context, browser, and playwright driver, in
// that order, tolerating partial failures since teardown happens on
// error paths too.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.context != nil {
		if err := s.context.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
