// Package registry owns the lifecycle of workflow registrations.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// Resolver resolves a workflow id to its tool schema.
type Resolver interface {
	Resolve(ctx context.Context, workflowID string) (*models.ToolSchema, error)
}

// Registry is the Tool Registry. The store is the source of truth; an
// in-memory index serves lookups on the invocation path.
type Registry struct {
	store    repository.RegistrationStore
	resolver Resolver
	logger   *logging.Logger
	now      func() time.Time
	locks    *keyLock

	mu       sync.RWMutex
	index    map[models.RegistrationKey]models.Registration
	onRemove []func(models.RegistrationKey)
}

// New creates a new Registry.
func New(store repository.RegistrationStore, resolver Resolver, logger *logging.Logger) *Registry {
	return &Registry{
		store:    store,
		resolver: resolver,
		logger:   logger.With("component", "registry"),
		now:      func() time.Time { return time.Now().UTC() },
		locks:    newKeyLock(),
		index:    map[models.RegistrationKey]models.Registration{},
	}
}

// OnRemove registers fn to be called after a registration is removed.
func (r *Registry) OnRemove(fn func(models.RegistrationKey)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Load warms the index from the store.
func (r *Registry) Load(ctx context.Context) error {
	regs, err := r.store.List(ctx)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "failed to load registrations")
	}
	r.mu.Lock()
	for _, reg := range regs {
		r.index[reg.Key()] = *reg
	}
	r.mu.Unlock()
	r.logger.Info("Registrations loaded", "count", len(regs))

	// Warm the schema cache so argument checks on the first calls after a
	// restart do not need the engine.
	warmed := map[string]bool{}
	for _, reg := range regs {
		if !reg.Active() || warmed[reg.WorkflowID] {
			continue
		}
		warmed[reg.WorkflowID] = true
		if _, err := r.resolver.Resolve(ctx, reg.WorkflowID); err != nil {
			r.logger.Warn("Failed to resolve workflow of a loaded registration",
				"workflowId", reg.WorkflowID,
				"error", err,
			)
		}
	}
	return nil
}

// Register binds a workflow to a tenant key. It returns the registration and
// whether it was created (or reactivated) by this call. An existing active
// registration is returned unchanged.
func (r *Registry) Register(ctx context.Context, workflowID, tenantKey string) (*models.Registration, bool, error) {
	key, err := validKey(workflowID, tenantKey)
	if err != nil {
		return nil, false, err
	}
	unlock := r.locks.Lock(key.String())
	defer unlock()

	existing, err := r.current(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Active() {
		return existing, false, nil
	}

	if _, err := r.resolver.Resolve(ctx, workflowID); err != nil {
		return nil, false, err
	}

	now := r.now()
	reg := models.Registration{
		WorkflowID: workflowID,
		TenantKey:  tenantKey,
		Code:       uuid.NewString(),
		Status:     models.RegistrationActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		reg.Code = existing.Code
		reg.CreatedAt = existing.CreatedAt
	}
	if err := r.store.Upsert(ctx, &reg); err != nil {
		return nil, false, errs.Wrap(errs.Internal, err, "failed to save registration")
	}

	r.mu.Lock()
	r.index[key] = reg
	r.mu.Unlock()

	r.logger.Info("Workflow registered",
		"workflowId", workflowID,
		"tenantKey", errs.Mask(tenantKey),
		"code", reg.Code,
		"reactivated", existing != nil,
	)
	return &reg, true, nil
}

// List returns the active registrations ordered by creation time, workflow id and tenant key.
func (r *Registry) List(ctx context.Context) ([]*models.Registration, error) {
	regs, err := r.store.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to list registrations")
	}
	active := make([]*models.Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.Active() {
			active = append(active, reg)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
		return a.TenantKey < b.TenantKey
	})
	return active, nil
}

// Remove marks a registration removed.
func (r *Registry) Remove(ctx context.Context, workflowID, tenantKey string) error {
	key, err := validKey(workflowID, tenantKey)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(key.String())
	defer unlock()

	existing, err := r.current(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Active() {
		return errs.NotFoundRegistration(workflowID, tenantKey)
	}

	now := r.now()
	if err := r.store.SetStatus(ctx, key, models.RegistrationRemoved, now); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to remove registration")
	}

	removed := *existing
	removed.Status = models.RegistrationRemoved
	removed.UpdatedAt = now
	r.mu.Lock()
	r.index[key] = removed
	hooks := append([]func(models.RegistrationKey){}, r.onRemove...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(key)
	}
	r.logger.Info("Registration removed", "workflowId", workflowID, "tenantKey", errs.Mask(tenantKey))
	return nil
}

// Lookup returns the active registration for the pair.
func (r *Registry) Lookup(ctx context.Context, workflowID, tenantKey string) (*models.Registration, error) {
	key := models.RegistrationKey{WorkflowID: workflowID, TenantKey: tenantKey}
	reg, err := r.current(ctx, key)
	if err != nil {
		return nil, err
	}
	if reg == nil || !reg.Active() {
		return nil, errs.NotFoundRegistration(workflowID, tenantKey)
	}
	return reg, nil
}

// current returns the registration of any status, consulting the store on an
// index miss so that records written by other processes are picked up.
func (r *Registry) current(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	r.mu.RLock()
	reg, ok := r.index[key]
	r.mu.RUnlock()
	if ok {
		return &reg, nil
	}

	stored, err := r.store.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to read registration")
	}
	r.mu.Lock()
	if _, ok := r.index[key]; !ok {
		r.index[key] = *stored
	}
	r.mu.Unlock()
	return stored, nil
}

func validKey(workflowID, tenantKey string) (models.RegistrationKey, error) {
	if !models.ValidIdentifier(workflowID) {
		return models.RegistrationKey{}, errs.InvalidArgumentsf("invalid workflow id %q", workflowID)
	}
	if !models.ValidIdentifier(tenantKey) {
		return models.RegistrationKey{}, errs.InvalidArgumentsf("invalid tenant key")
	}
	return models.RegistrationKey{WorkflowID: workflowID, TenantKey: tenantKey}, nil
}
