package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
)

// Credentials are the operator credentials used to log in to an engine instance.
type Credentials struct {
	Username string
	Password string
}

// Login is the outcome of a successful authentication.
type Login struct {
	Material engine.AuthMaterial
	// Expires is the expiry reported by the engine, zero when unknown.
	Expires time.Time
}

// AuthenticationProvider produces session material for an engine instance.
type AuthenticationProvider interface {
	Login(ctx context.Context, instanceURL string, creds Credentials) (*Login, error)
}

// ProviderFunc adapts a function to AuthenticationProvider.
type ProviderFunc func(ctx context.Context, instanceURL string, creds Credentials) (*Login, error)

func (f ProviderFunc) Login(ctx context.Context, instanceURL string, creds Credentials) (*Login, error) {
	return f(ctx, instanceURL, creds)
}

// StaticProvider returns operator-supplied material without contacting the engine.
type StaticProvider struct {
	Material engine.AuthMaterial
}

func (p StaticProvider) Login(ctx context.Context, instanceURL string, creds Credentials) (*Login, error) {
	if p.Material.Empty() {
		return nil, errors.New("no static session material configured")
	}
	return &Login{Material: p.Material}, nil
}

// RESTProvider logs in through the engine's REST login endpoint.
type RESTProvider struct {
	HTTP *http.Client
}

// NewRESTProvider creates a RESTProvider with the given request timeout.
func NewRESTProvider(timeout time.Duration) *RESTProvider {
	return &RESTProvider{HTTP: &http.Client{Timeout: timeout}}
}

func (p *RESTProvider) Login(ctx context.Context, instanceURL string, creds Credentials) (*Login, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, errors.New("engine username and password are required")
	}
	body, err := json.Marshal(map[string]string{
		"emailOrLdapLoginId": creds.Username,
		"password":           creds.Password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(instanceURL, "/")+"/rest/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	browserID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("browser-id", browserID)

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login rejected: status code %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name != engine.AuthCookieName {
			continue
		}
		login := &Login{Material: engine.AuthMaterial{AuthCookie: c.Value, BrowserID: browserID}}
		switch {
		case c.MaxAge > 0:
			login.Expires = time.Now().Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			login.Expires = c.Expires
		}
		return login, nil
	}
	return nil, fmt.Errorf("login response carried no %s cookie", engine.AuthCookieName)
}
