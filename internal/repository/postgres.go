package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS registrations (
	workflow_id TEXT NOT NULL,
	tenant_key TEXT NOT NULL,
	code UUID NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workflow_id, tenant_key)
)`

// PostgresStore is a PostgreSQL implementation of the RegistrationStore interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the registrations table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// Upsert saves a registration. On conflict only status and updated_at change;
// reg is updated with the stored code and creation time.
func (s *PostgresStore) Upsert(ctx context.Context, reg *models.Registration) error {
	return s.db.QueryRow(ctx, `INSERT INTO registrations (workflow_id, tenant_key, code, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id, tenant_key) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING code::text, created_at`,
		reg.WorkflowID, reg.TenantKey, reg.Code, string(reg.Status), reg.CreatedAt, reg.UpdatedAt,
	).Scan(&reg.Code, &reg.CreatedAt)
}

// Get retrieves a registration by its key.
func (s *PostgresStore) Get(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	row := s.db.QueryRow(ctx, `SELECT workflow_id, tenant_key, code::text, status, created_at, updated_at
		FROM registrations WHERE workflow_id = $1 AND tenant_key = $2`, key.WorkflowID, key.TenantKey)
	reg, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// List returns every registration ordered by creation.
func (s *PostgresStore) List(ctx context.Context) ([]*models.Registration, error) {
	rows, err := s.db.Query(ctx, `SELECT workflow_id, tenant_key, code::text, status, created_at, updated_at
		FROM registrations ORDER BY created_at, workflow_id, tenant_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// SetStatus updates the status of a registration.
func (s *PostgresStore) SetStatus(ctx context.Context, key models.RegistrationKey, status models.RegistrationStatus, at time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE registrations SET status = $1, updated_at = $2 WHERE workflow_id = $3 AND tenant_key = $4",
		string(status), at, key.WorkflowID, key.TenantKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var reg models.Registration
	var status string
	if err := row.Scan(&reg.WorkflowID, &reg.TenantKey, &reg.Code, &status, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	reg.Status = models.RegistrationStatus(status)
	return &reg, nil
}
