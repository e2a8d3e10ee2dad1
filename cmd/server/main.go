package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/api"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/auth"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/executor"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/mcp"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/schema"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/session"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/tls"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "bridge",
	Short:         "Serve n8n workflows as tool protocol endpoints",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml)")
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"engine", cfg.Engine.InstanceURL,
		"store", cfg.Store.Driver,
		"sessionProvider", cfg.Session.Provider,
		"onLoginFailure", cfg.Session.OnLoginFailure,
		"auth", cfg.Auth.Enabled,
	)
	if cfg.Auth.Enabled && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE login from the docs page will fail for confidential clients")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Registration store connected", "driver", cfg.Store.Driver)

	client := engine.NewClient(cfg.Engine.InstanceURL, cfg.Engine.APIKey, cfg.Engine.RequestTimeout)

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	sessionOpts := session.Options{
		TTL:           cfg.Session.TTL,
		LoginTimeout:  cfg.Session.LoginTimeout,
		LoginInterval: cfg.Session.LoginRate,
	}
	if cfg.Session.OnLoginFailure == config.LoginFailureStatic {
		sessionOpts.Fallback = &engine.AuthMaterial{
			AuthCookie: cfg.Engine.StaticAuthCookie,
			BrowserID:  cfg.Engine.StaticBrowserID,
		}
	}
	sessions := session.NewManager(provider, []session.Instance{{
		URL:         cfg.Engine.InstanceURL,
		Credentials: session.Credentials{Username: cfg.Engine.Username, Password: cfg.Engine.Password},
		Checker:     client,
	}}, sessionOpts, logger)
	stopValidation, err := sessions.StartValidation(cfg.Session.ValidateSchedule)
	if err != nil {
		return err
	}
	defer stopValidation()

	analyzer := engine.NewAnalyzer(client)
	resolver := schema.NewResolver(client, analyzer, logger)
	exec, err := executor.New(client, sessions, resolver, executor.Options{
		Timeout:     cfg.Executor.Timeout,
		PollInitial: cfg.Executor.PollInitial,
		PollMax:     cfg.Executor.PollMax,
		MaxRetries:  cfg.Executor.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}

	reg := registry.New(store, resolver, logger)
	if err := reg.Load(ctx); err != nil {
		return err
	}
	tools := mcp.NewServer(reg, resolver, exec, version, logger)
	reg.OnRemove(tools.Forget)

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	handler := api.NewServer(api.Deps{
		Registry:        reg,
		Tools:           tools,
		Analyzer:        analyzer,
		Sessions:        sessions,
		Store:           store,
		Auth:            authz,
		PublicURL:       cfg.Server.PublicURL,
		Version:         version,
		Issuer:          cfg.Auth.Issuer,
		SwaggerClientID: cfg.Auth.SwaggerClientID,
	}, logger).Echo()

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enable {
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("tls setup failed: %w", err)
		}
		if generated {
			logger.Warn("Generated a self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Address, "tls", cfg.TLS.Enable, "publicUrl", cfg.Server.PublicURL)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

// newProvider selects how sessions are obtained from the engine.
func newProvider(cfg *config.Config, logger *logging.Logger) (session.AuthenticationProvider, error) {
	switch cfg.Session.Provider {
	case "browser":
		return session.NewBrowserProvider(cfg.Session.Headless, cfg.Session.BrowserBin, logger), nil
	case "rest":
		return session.NewRESTProvider(cfg.Session.LoginTimeout), nil
	case "static":
		return session.StaticProvider{Material: engine.AuthMaterial{
			AuthCookie: cfg.Engine.StaticAuthCookie,
			BrowserID:  cfg.Engine.StaticBrowserID,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown session.provider %q", cfg.Session.Provider)
	}
}
