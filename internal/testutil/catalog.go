package testutil

import (
	"testing"
	"time"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SeedQuery persists a query owned by owner.
func SeedQuery(tb testing.TB, db *gorm.DB, owner string) *models.Query {
	tb.Helper()

	now := time.Now().UTC()
	q := &models.Query{
		ID:        uuid.New(),
		Name:      "daily-active-users",
		Statement: "select count(*) from sessions where day = {{day}}",
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(q).Error; err != nil {
		tb.Fatalf("seed query: %v", err)
	}
	return q
}

// SeedTarget persists a target owned by owner.
func SeedTarget(tb testing.TB, db *gorm.DB, owner, name string) *models.Target {
	tb.Helper()

	now := time.Now().UTC()
	t := &models.Target{
		ID:         uuid.New(),
		Name:       name,
		ExternalID: "ext-" + name,
		Owner:      owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(t).Error; err != nil {
		tb.Fatalf("seed target: %v", err)
	}
	return t
}

// SeedGrant gives principal access to a resource.
func SeedGrant(tb testing.TB, db *gorm.DB, principal string, kind models.ResourceType, id uuid.UUID) {
	tb.Helper()

	g := &models.Grant{
		ID:           uuid.New(),
		Principal:    principal,
		ResourceType: kind,
		ResourceID:   id,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.Create(g).Error; err != nil {
		tb.Fatalf("seed grant: %v", err)
	}
}
