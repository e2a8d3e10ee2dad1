package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/schema"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// SeedFile lists the registrations to create.
//
//	registrations:
//	  - workflowId: wf1
//	    tenantKey: team-a-key
type SeedFile struct {
	Registrations []SeedEntry `yaml:"registrations"`
}

type SeedEntry struct {
	WorkflowID string `yaml:"workflowId"`
	TenantKey  string `yaml:"tenantKey"`
}

// Registrar creates registrations.
type Registrar interface {
	Register(ctx context.Context, workflowID, tenantKey string) (*models.Registration, bool, error)
}

var (
	configPath string
	seedPath   string
)

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Register workflows listed in a YAML file",
	SilenceUsage: true,
	RunE:         runSeed,
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml)")
	rootCmd.Flags().StringVarP(&seedPath, "file", "f", "seed.yaml", "Path to the seed file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	file, err := loadSeedFile(seedPath)
	if err != nil {
		return err
	}

	store, closeStore, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	client := engine.NewClient(cfg.Engine.InstanceURL, cfg.Engine.APIKey, cfg.Engine.RequestTimeout)
	resolver := schema.NewResolver(client, engine.NewAnalyzer(client), logger)
	reg := registry.New(store, resolver, logger)

	created, failed := seed(ctx, reg, file, logger)
	logger.Info("Seeding complete", "created", created, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d registrations failed", failed)
	}
	return nil
}

func loadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &file, nil
}

// seed registers every entry, skipping pairs that are already active. A
// failing entry does not stop the others.
func seed(ctx context.Context, reg Registrar, file *SeedFile, logger *logging.Logger) (created, failed int) {
	for _, entry := range file.Registrations {
		r, isNew, err := reg.Register(ctx, entry.WorkflowID, entry.TenantKey)
		if err != nil {
			failed++
			logger.Error("Failed to register workflow",
				"workflowId", entry.WorkflowID,
				"tenantKey", errs.Mask(entry.TenantKey),
				"error", err,
			)
			continue
		}
		if !isNew {
			logger.Info("Skipping existing registration", "workflowId", r.WorkflowID, "tenantKey", errs.Mask(r.TenantKey))
			continue
		}
		created++
		logger.Info("Seeded registration", "workflowId", r.WorkflowID, "tenantKey", errs.Mask(r.TenantKey), "code", r.Code)
	}
	return created, failed
}
