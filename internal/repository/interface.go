package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("registration not found")

// RegistrationStore is the durable store of registrations.
type RegistrationStore interface {
	// Upsert inserts reg, or updates the status and update time of the existing
	// record for the same key. Code and creation time of an existing record are kept.
	Upsert(ctx context.Context, reg *models.Registration) error
	// Get retrieves a registration of any status by key.
	Get(ctx context.Context, key models.RegistrationKey) (*models.Registration, error)
	// List returns all registrations of any status.
	List(ctx context.Context) ([]*models.Registration, error)
	// SetStatus changes the status of an existing registration.
	SetStatus(ctx context.Context, key models.RegistrationKey, status models.RegistrationStatus, at time.Time) error
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
