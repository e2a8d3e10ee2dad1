package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/auth"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// BuildRequest is the body of POST /build.
type BuildRequest struct {
	WorkflowID string `json:"workflowId"`
	TenantKey  string `json:"tenantKey"`
}

// BuildResponse describes the tool endpoint of a registration.
type BuildResponse struct {
	Code       string `json:"code"`
	ToolURL    string `json:"toolUrl"`
	WorkflowID string `json:"workflowId"`
	TenantKey  string `json:"tenantKey"`
}

// RegistrationView is a registration as shown by GET /list.
type RegistrationView struct {
	WorkflowID string                    `json:"workflowId"`
	TenantKey  string                    `json:"tenantKey"`
	Code       string                    `json:"code"`
	CreatedAt  time.Time                 `json:"createdAt"`
	Status     models.RegistrationStatus `json:"status"`
	ToolURL    string                    `json:"toolUrl"`
}

// Build registers a workflow for a tenant key
// (POST /build)
func (s *Server) Build(c echo.Context) error {
	var req BuildRequest
	if err := c.Bind(&req); err != nil {
		return errs.InvalidArgumentsf("invalid request body: %v", err)
	}

	ctx := c.Request().Context()
	reg, created, err := s.Registry.Register(ctx, req.WorkflowID, req.TenantKey)
	if err != nil {
		return err
	}

	// Building an active pair again answers like the first build.
	s.logger.Debug("Build request handled",
		"workflowId", reg.WorkflowID,
		"tenantKey", errs.Mask(reg.TenantKey),
		"created", created,
		"operator", auth.Operator(ctx),
	)
	return c.JSON(http.StatusCreated, BuildResponse{
		Code:       reg.Code,
		ToolURL:    s.toolURL(reg.WorkflowID, reg.TenantKey),
		WorkflowID: reg.WorkflowID,
		TenantKey:  reg.TenantKey,
	})
}

// List returns the active registrations
// (GET /list)
func (s *Server) List(c echo.Context) error {
	regs, err := s.Registry.List(c.Request().Context())
	if err != nil {
		return err
	}

	views := make([]RegistrationView, 0, len(regs))
	for _, reg := range regs {
		views = append(views, RegistrationView{
			WorkflowID: reg.WorkflowID,
			TenantKey:  errs.Mask(reg.TenantKey),
			Code:       reg.Code,
			CreatedAt:  reg.CreatedAt,
			Status:     reg.Status,
			ToolURL:    s.toolURL(reg.WorkflowID, reg.TenantKey),
		})
	}
	return c.JSON(http.StatusOK, views)
}

// Remove deactivates a registration
// (POST /remove/:workflowId/:tenantKey)
func (s *Server) Remove(c echo.Context) error {
	workflowID, tenantKey, err := bindRegistrationPath(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.Registry.Remove(ctx, workflowID, tenantKey); err != nil {
		return err
	}
	s.logger.Debug("Remove request handled",
		"workflowId", workflowID,
		"tenantKey", errs.Mask(tenantKey),
		"operator", auth.Operator(ctx),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": string(models.RegistrationRemoved)})
}

// RequiredCredentials lists the credentials a workflow uses
// (GET /requiredCredentials/:workflowId)
func (s *Server) RequiredCredentials(c echo.Context) error {
	workflowID, err := bindIdentifier(c, "workflowId")
	if err != nil {
		return err
	}

	creds, err := s.Analyzer.RequiredCredentials(c.Request().Context(), workflowID)
	if err != nil {
		return err
	}
	if creds == nil {
		creds = []models.CredentialRequirement{}
	}
	return c.JSON(http.StatusOK, creds)
}

// CredentialsStatus reports the engine sessions without their material
// (GET /credentialsStatus)
func (s *Server) CredentialsStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Sessions.Status())
}

func (s *Server) toolURL(workflowID, tenantKey string) string {
	return s.PublicURL + "/mcp/" + url.PathEscape(workflowID) + "/" + url.PathEscape(tenantKey)
}
