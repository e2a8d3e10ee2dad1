// Package api contains the HTTP surface of the bridge: the management
// endpoints and the dispatcher in front of the per-registration tool servers.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/auth"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/session"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// Registry manages registrations.
type Registry interface {
	Register(ctx context.Context, workflowID, tenantKey string) (*models.Registration, bool, error)
	List(ctx context.Context) ([]*models.Registration, error)
	Remove(ctx context.Context, workflowID, tenantKey string) error
}

// ToolServers returns the protocol handler of a registration.
type ToolServers interface {
	Handler(ctx context.Context, workflowID, tenantKey string) (http.Handler, error)
}

// CredentialAnalyzer lists the credentials a workflow needs.
type CredentialAnalyzer interface {
	RequiredCredentials(ctx context.Context, workflowID string) ([]models.CredentialRequirement, error)
}

// SessionStatus reports the state of the engine sessions.
type SessionStatus interface {
	Status() []session.Status
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Registry  Registry
	Tools     ToolServers
	Analyzer  CredentialAnalyzer
	Sessions  SessionStatus
	Store     Pinger
	Auth      *auth.Auth
	PublicURL string
	Version   string
	// Issuer and SwaggerClientID configure the Swagger UI login.
	Issuer          string
	SwaggerClientID string
}

// Server holds the dependencies for the API server.
type Server struct {
	Deps
	logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(deps Deps, logger *logging.Logger) *Server {
	return &Server{Deps: deps, logger: logger.With("component", "api")}
}

// Echo builds the echo instance with every route mounted.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("n8n-workflow-bridge"))
	e.Use(s.requestLogger)

	e.GET("/health", s.HandleHealth)
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(s.Issuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler(s.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(OAuthRedirectHandler)))

	if s.Auth != nil {
		e.GET("/login", echo.WrapHandler(http.HandlerFunc(s.Auth.LoginHandler)))
		e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(s.Auth.CallbackHandler)))
		e.GET("/logout", echo.WrapHandler(http.HandlerFunc(s.Auth.LogoutHandler)))
	}

	read := s.guard(auth.ScopeBridgeRead)
	write := s.guard(auth.ScopeBridgeWrite)
	e.POST("/build", s.Build, write)
	e.GET("/list", s.List, read)
	e.POST("/remove/:workflowId/:tenantKey", s.Remove, write)
	e.GET("/requiredCredentials/:workflowId", s.RequiredCredentials, read)
	e.GET("/credentialsStatus", s.CredentialsStatus, read)

	// The tool endpoint is authenticated by its tenant key.
	e.Any("/mcp/:workflowId/:tenantKey", s.Dispatch)
	e.Any("/mcp/:workflowId/:tenantKey/*", s.Dispatch)

	return e
}

func (s *Server) guard(scope string) echo.MiddlewareFunc {
	if s.Auth == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echo.WrapMiddleware(s.Auth.RequireAuth(scope))
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("Request handled",
			"method", c.Request().Method,
			"route", c.Path(),
			"status", c.Response().Status,
		)
		return nil
	}
}
