package models

import (
	"time"

	"github.com/google/uuid"
)

type Query struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Statement string    `gorm:"type:text;not null" json:"statement"`
	Owner     string    `gorm:"type:text;index;not null;default:''" json:"owner"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Target is the local record for a remote system instance. ExternalID is the
// remote system's own address for it and is only read by the target resolver.
type Target struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"type:text;not null" json:"name"`
	ExternalID    string    `gorm:"type:text;not null" json:"-"`
	Endpoint      string    `gorm:"type:text" json:"endpoint,omitempty"`
	CredentialRef string    `gorm:"type:text" json:"-"`
	Owner         string    `gorm:"type:text;index;not null;default:''" json:"owner"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

type ResourceType string

const (
	ResourceTypeQuery  ResourceType = "query"
	ResourceTypeTarget ResourceType = "target"
)

// PrincipalAny matches every caller.
const PrincipalAny = "*"

type Grant struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Principal    string       `gorm:"type:text;not null;uniqueIndex:idx_grant" json:"principal"`
	ResourceType ResourceType `gorm:"type:text;not null;uniqueIndex:idx_grant" json:"resource_type"`
	ResourceID   uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_grant" json:"resource_id"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}
