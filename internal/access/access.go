// Package access decides whether a principal may use a query or target.
// A principal may use a resource it owns, one granted to it directly, or
// one granted to every principal ("*").
package access

import (
	"context"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Resource identifies something access is checked against.
type Resource struct {
	ID    uuid.UUID
	Owner string
}

type Checker struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Checker {
	return &Checker{db: db}
}

// Allowed reports whether principal may use the resource.
func (c *Checker) Allowed(ctx context.Context, principal string, kind models.ResourceType, r Resource) (bool, error) {
	denied, err := c.Denied(ctx, principal, kind, []Resource{r})
	if err != nil {
		return false, err
	}
	return len(denied) == 0, nil
}

// Denied returns the ids, in input order, principal may not use.
func (c *Checker) Denied(ctx context.Context, principal string, kind models.ResourceType, resources []Resource) ([]uuid.UUID, error) {
	var pending []uuid.UUID
	for _, r := range resources {
		if principal != "" && r.Owner == principal {
			continue
		}
		pending = append(pending, r.ID)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var granted []uuid.UUID
	err := c.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("resource_type = ? AND resource_id IN ? AND principal IN ?",
			kind, pending, []string{principal, models.PrincipalAny}).
		Distinct().
		Pluck("resource_id", &granted).Error
	if err != nil {
		return nil, errors.Wrap(err, "load grants")
	}

	ok := make(map[uuid.UUID]struct{}, len(granted))
	for _, id := range granted {
		ok[id] = struct{}{}
	}

	var denied []uuid.UUID
	for _, id := range pending {
		if _, found := ok[id]; !found {
			denied = append(denied, id)
		}
	}
	return denied, nil
}
