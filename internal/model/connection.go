// Package model defines the core domain types shared across the application.
package model

import "time"

// ConnectionStatus represents the lifecycle state of an aggregator connection.
type ConnectionStatus string

const (
	// ConnectionStatusPending means the connection is being established.
	ConnectionStatusPending ConnectionStatus = "pending"
	// ConnectionStatusActive means the connection is healthy and syncable.
	ConnectionStatusActive ConnectionStatus = "active"
	// ConnectionStatusRequiresAuth means the end user must re-authenticate.
	ConnectionStatusRequiresAuth ConnectionStatus = "requires_authentication"
	// ConnectionStatusLoginError means the stored institution credentials were rejected.
	ConnectionStatusLoginError ConnectionStatus = "login_error"
	// ConnectionStatusError means the last sync failed for a non-credential reason.
	ConnectionStatusError ConnectionStatus = "error"
	// ConnectionStatusUpdating means the aggregator is still refreshing the item.
	ConnectionStatusUpdating ConnectionStatus = "updating"
)

// Connection represents one authenticated link between a tenant and a
// financial institution via the aggregator. Connections are soft-deactivated,
// never hard-deleted, to preserve the audit trail.
type Connection struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSyncAt    *time.Time
	ExternalID    string
	TenantID      string
	Status        ConnectionStatus
	ErrorCode     string
	ErrorMessage  string
	EncryptedMFA  string
	ID            int64
	Active        bool
}

// Syncable reports whether a sync attempt makes sense for this connection.
func (c *Connection) Syncable() bool {
	return c.Active && c.Status != ConnectionStatusPending
}
