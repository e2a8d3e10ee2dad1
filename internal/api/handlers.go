package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Store     string    `json:"store"`
}

// HandleHealth reports liveness. A failing store is reported but does not
// fail the probe, since active registrations are still served from memory.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "n8n-workflow-bridge",
		Version:   s.Version,
		Store:     "ok",
	}
	if s.Store != nil {
		if err := s.Store.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Store = err.Error()
		}
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Status   int       `json:"status"`
	Detail   string    `json:"detail"`
	Kind     errs.Kind `json:"kind"`
	Instance string    `json:"instance,omitempty"`
}

// handleError writes every handler error as problem+json.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	problem := ProblemDetails{
		Type:     "about:blank",
		Instance: c.Request().URL.Path,
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		problem.Status = he.Code
		problem.Kind = kindForStatus(he.Code)
		if msg, ok := he.Message.(string); ok {
			problem.Detail = msg
		} else {
			problem.Detail = http.StatusText(he.Code)
		}
	} else {
		problem.Kind = errs.KindOf(err)
		problem.Status = errs.HTTPStatus(problem.Kind)
		problem.Detail = errs.Detail(err)
	}
	problem.Title = http.StatusText(problem.Status)

	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", problem.Instance, "kind", problem.Kind, "error", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(problem.Status)
		return
	}
	_ = c.JSON(problem.Status, problem)
}

func kindForStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.InvalidArguments
	case http.StatusGatewayTimeout:
		return errs.ExecutionTimeout
	case http.StatusBadGateway:
		return errs.UpstreamError
	default:
		return errs.Internal
	}
}
