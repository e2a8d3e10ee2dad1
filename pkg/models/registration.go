// Package models defines the records shared across the bridge.
package models

import (
	"time"
)

// RegistrationStatus is the lifecycle state of a registration.
type RegistrationStatus string

const (
	RegistrationActive  RegistrationStatus = "active"
	RegistrationRemoved RegistrationStatus = "removed"
)

// Registration binds a workflow and a tenant key to a callable tool endpoint.
// The pair (WorkflowID, TenantKey) is unique; Code is assigned once and kept
// for the lifetime of the pair.
type Registration struct {
	WorkflowID string             `json:"workflowId" bson:"workflow_id"`
	TenantKey  string             `json:"tenantKey" bson:"tenant_key"`
	Code       string             `json:"code" bson:"code"`
	Status     RegistrationStatus `json:"status" bson:"status"`
	CreatedAt  time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updatedAt" bson:"updated_at"`
}

// Key returns the composite key of the registration.
func (r *Registration) Key() RegistrationKey {
	return RegistrationKey{WorkflowID: r.WorkflowID, TenantKey: r.TenantKey}
}

// Active reports whether the registration can serve invocations.
func (r *Registration) Active() bool {
	return r.Status == RegistrationActive
}

// RegistrationKey is the composite identity of a registration.
type RegistrationKey struct {
	WorkflowID string
	TenantKey  string
}

func (k RegistrationKey) String() string {
	return k.WorkflowID + "/" + k.TenantKey
}
