package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/config"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type contextKey string

const operatorKey contextKey = "operator"

// Operator returns the authenticated operator stored by RequireAuth.
func Operator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}

// Auth protects the management API with OpenID Connect. Browser users go
// through the authorization code flow; API clients send a bearer access token.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	disabled     bool
}

// New creates a new Auth object. When auth is disabled in the configuration
// every request is let through as the "anonymous" operator.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	if !cfg.Auth.Enabled {
		return &Auth{logger: logger, disabled: true}, nil
	}
	if cfg.Auth.Issuer == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	return &Auth{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       []string{ScopeOpenID, ScopeEmail},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID}),
		// Access tokens usually carry an API audience rather than the client id.
		apiVerifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		logger:      logger,
	}, nil
}

// Enabled reports whether requests are authenticated.
func (a *Auth) Enabled() bool {
	return !a.disabled
}

// LoginHandler starts the authorization code flow. A random state value is
// stored in a cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.disabled {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler verifies the state parameter, exchanges the code for tokens,
// validates the ID token and stores it in a session cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.disabled {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, "/docs", http.StatusSeeOther)
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/docs", http.StatusSeeOther)
}

// RequireAuth is middleware that accepts a bearer access token or the ID token
// cookie. Access tokens that carry scopes must include scope.
func (a *Auth) RequireAuth(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.disabled {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, "anonymous")))
				return
			}

			var token *oidc.IDToken
			var err error
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			} else if cookie, cerr := r.Cookie("id_token"); cerr == nil {
				token, err = a.verifier.Verify(r.Context(), cookie.Value)
			} else {
				err = errors.New("missing credentials")
			}
			if err != nil {
				if a.logger != nil {
					a.logger.Debug("Management request rejected", "path", r.URL.Path, "error", err)
				}
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Email  string   `json:"email"`
				Scopes []string `json:"scp"`
			}
			if err := token.Claims(&claims); err != nil {
				http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
				return
			}
			if len(claims.Scopes) > 0 && scope != "" && !slices.Contains(claims.Scopes, scope) {
				http.Error(w, "missing scope "+scope, http.StatusForbidden)
				return
			}

			operator := claims.Email
			if operator == "" {
				operator = token.Subject
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, operator)))
		})
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
