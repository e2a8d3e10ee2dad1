package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// MemoryStore keeps registrations in process memory. It is used for tests and
// single-node development setups.
type MemoryStore struct {
	mu   sync.RWMutex
	regs map[models.RegistrationKey]models.Registration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regs: map[models.RegistrationKey]models.Registration{}}
}

func (s *MemoryStore) Upsert(ctx context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.regs[reg.Key()]; ok {
		existing.Status = reg.Status
		existing.UpdatedAt = reg.UpdatedAt
		s.regs[reg.Key()] = existing
		reg.Code = existing.Code
		reg.CreatedAt = existing.CreatedAt
		return nil
	}
	s.regs[reg.Key()] = *reg
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.regs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &reg, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]*models.Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		reg := reg
		regs = append(regs, &reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
		return a.TenantKey < b.TenantKey
	})
	return regs, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, key models.RegistrationKey, status models.RegistrationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[key]
	if !ok {
		return ErrNotFound
	}
	reg.Status = status
	reg.UpdatedAt = at
	s.regs[key] = reg
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

var (
	_ RegistrationStore = (*MemoryStore)(nil)
	_ RegistrationStore = (*PostgresStore)(nil)
	_ RegistrationStore = (*MongoStore)(nil)
)
