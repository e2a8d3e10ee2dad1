package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
)

const (
	emailSelector    = `input[name="emailOrLdapLoginId"]`
	passwordSelector = `input[name="password"]`
	submitSelector   = `button[data-test-id="form-submit-button"]`
	browserIDKey     = "n8n-browserId"
)

// BrowserProvider drives a headless Chromium through the engine's sign-in page
// and captures the resulting session cookie and browser id.
type BrowserProvider struct {
	headless bool
	bin      string
	logger   *logging.Logger
}

// NewBrowserProvider creates a BrowserProvider. An empty bin lets the launcher
// locate or download a browser.
func NewBrowserProvider(headless bool, bin string, logger *logging.Logger) *BrowserProvider {
	return &BrowserProvider{headless: headless, bin: bin, logger: logger}
}

func (p *BrowserProvider) Login(ctx context.Context, instanceURL string, creds Credentials) (*Login, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, errors.New("engine username and password are required")
	}

	l := launcher.New().
		Context(ctx).
		Headless(p.headless).
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	if p.bin != "" {
		l = l.Bin(p.bin)
	}
	defer l.Cleanup()

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer browser.Close()

	signinURL := strings.TrimRight(instanceURL, "/") + "/signin"
	p.logger.Debug("Opening sign-in page", "url", signinURL)

	page, err := browser.Page(proto.TargetCreateTarget{URL: signinURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open sign-in page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("sign-in page did not load: %w", err)
	}

	if err := fill(page, emailSelector, creds.Username); err != nil {
		return nil, err
	}
	if err := fill(page, passwordSelector, creds.Password); err != nil {
		return nil, err
	}
	submit, err := page.Element(submitSelector)
	if err != nil {
		return nil, fmt.Errorf("sign-in button not found: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("failed to submit sign-in form: %w", err)
	}

	// The app navigates to /home or /workflow once the login is accepted.
	if err := page.Wait(rod.Eval(`() => !window.location.pathname.includes("/signin")`)); err != nil {
		return nil, fmt.Errorf("sign-in did not complete: %w", err)
	}

	res, err := page.Eval(`k => window.localStorage.getItem(k) || ""`, browserIDKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read browser id: %w", err)
	}
	browserID := res.Value.Str()
	if browserID == "" {
		return nil, errors.New("browser id missing from local storage")
	}

	cookies, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	for _, c := range cookies {
		if c.Name != engine.AuthCookieName {
			continue
		}
		login := &Login{Material: engine.AuthMaterial{AuthCookie: c.Value, BrowserID: browserID}}
		if c.Expires > 0 {
			login.Expires = c.Expires.Time()
		}
		return login, nil
	}
	return nil, fmt.Errorf("%s cookie not set after sign-in", engine.AuthCookieName)
}

func fill(page *rod.Page, selector, value string) error {
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}
