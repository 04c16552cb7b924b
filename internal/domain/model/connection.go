package model

import "time"

// ProviderConnection maps a provider-side user identifier to an internal
// user id. Rows are established by the account-linking flow, which lives
// outside this service; ingestion only reads them.
type ProviderConnection struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	Provider       string    `gorm:"size:64;uniqueIndex:idx_connections_key,priority:1" json:"provider"`
	ProviderUserID string    `gorm:"size:128;uniqueIndex:idx_connections_key,priority:2" json:"provider_user_id"`
	UserID         string    `gorm:"size:64;index" json:"user_id"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// TableName sets the provider connection table name.
func (ProviderConnection) TableName() string { return "provider_connections" }
