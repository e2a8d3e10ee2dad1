package api

import (
	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// Dispatch routes a tool protocol request to the server of its registration
// (ANY /mcp/:workflowId/:tenantKey)
func (s *Server) Dispatch(c echo.Context) error {
	workflowID, tenantKey, err := bindRegistrationPath(c)
	if err != nil {
		return err
	}

	handler, err := s.Tools.Handler(c.Request().Context(), workflowID, tenantKey)
	if err != nil {
		return err
	}
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}

func bindRegistrationPath(c echo.Context) (string, string, error) {
	workflowID, err := bindIdentifier(c, "workflowId")
	if err != nil {
		return "", "", err
	}
	tenantKey, err := bindIdentifier(c, "tenantKey")
	if err != nil {
		return "", "", err
	}
	return workflowID, tenantKey, nil
}

// bindIdentifier binds a path parameter and rejects malformed identifiers
// before any lookup happens.
func bindIdentifier(c echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", errs.InvalidArgumentsf("invalid format for parameter %s: %v", name, err)
	}
	if !models.ValidIdentifier(value) {
		return "", errs.InvalidArgumentsf("invalid %s", name)
	}
	return value, nil
}
