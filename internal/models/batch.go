package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Batch struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	QueryID          uuid.UUID         `gorm:"type:uuid;index;not null" json:"query_id"`
	TargetIDs        datatypes.JSON    `gorm:"type:json;not null" json:"target_ids"`
	SharedParameters datatypes.JSONMap `gorm:"type:json" json:"shared_parameters,omitempty"`
	TargetOverrides  datatypes.JSON    `gorm:"type:json" json:"target_overrides,omitempty"`
	Label            string            `gorm:"type:text" json:"label,omitempty"`
	Owner            string            `gorm:"type:text;index;not null;default:''" json:"owner"`
	Status           string            `gorm:"type:text;index;not null" json:"status"`
	CancelRequested  bool              `gorm:"not null;default:false" json:"cancel_requested"`
	TotalTargets     int               `gorm:"not null" json:"total_targets"`
	PendingTargets   int               `gorm:"not null;default:0" json:"pending_targets"`
	RunningTargets   int               `gorm:"not null;default:0" json:"running_targets"`
	CompletedTargets int               `gorm:"not null;default:0" json:"completed_targets"`
	FailedTargets    int               `gorm:"not null;default:0" json:"failed_targets"`
	CancelledTargets int               `gorm:"not null;default:0" json:"cancelled_targets"`
	Error            string            `json:"error,omitempty"`
	StartedAt        time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
	Children         []*ChildExecution `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE" json:"children,omitempty"`
}

type Batches []*Batch

type ChildExecution struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID        *uuid.UUID        `gorm:"type:uuid;index" json:"batch_id,omitempty"`
	TargetID       uuid.UUID         `gorm:"type:uuid;index;not null" json:"target_id"`
	TargetName     string            `gorm:"type:text;not null;default:''" json:"target_name"`
	QueryID        uuid.UUID         `gorm:"type:uuid;not null" json:"query_id"`
	Parameters     datatypes.JSONMap `gorm:"type:json" json:"parameters,omitempty"`
	Status         string            `gorm:"type:text;index;not null" json:"status"`
	Attempts       int               `gorm:"not null;default:0" json:"attempts"`
	RowCount       int               `gorm:"not null;default:0" json:"row_count"`
	DurationMillis int64             `gorm:"not null;default:0" json:"duration_ms"`
	ErrorKind      string            `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorMessage   string            `gorm:"type:text" json:"error_message,omitempty"`
	RemoteRunID    string            `gorm:"type:text" json:"remote_run_id,omitempty"`
	ClaimedBy      string            `gorm:"type:text;index;not null;default:''" json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time        `gorm:"index" json:"claim_expires_at,omitempty"`
	ClaimAttempt   int               `gorm:"not null;default:0" json:"claim_attempt"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

// ChildResult holds the rows a completed child fetched from its target.
type ChildResult struct {
	ChildID   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"child_id"`
	Columns   datatypes.JSON `gorm:"type:json" json:"columns"`
	Rows      datatypes.JSON `gorm:"type:json" json:"rows"`
	RowCount  int            `gorm:"not null" json:"row_count"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}
