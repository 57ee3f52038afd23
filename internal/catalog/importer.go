package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Importer applies catalog documents. Queries and targets are matched by
// name, so applying the same document twice changes nothing.
type Importer struct {
	db *gorm.DB
}

func NewImporter(db *gorm.DB) *Importer {
	if db == nil {
		panic("catalog importer requires a database connection")
	}
	return &Importer{db: db}
}

// Summary counts what Apply changed.
type Summary struct {
	QueriesCreated int `json:"queries_created"`
	QueriesUpdated int `json:"queries_updated"`
	TargetsCreated int `json:"targets_created"`
	TargetsUpdated int `json:"targets_updated"`
	GrantsCreated  int `json:"grants_created"`
}

// Apply persists doc in a single transaction.
func (i *Importer) Apply(ctx context.Context, doc *Document) (*Summary, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	sum := &Summary{}
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		queryIDs := map[string]uuid.UUID{}
		for _, q := range doc.Queries {
			id, created, err := upsertQuery(tx, q, now)
			if err != nil {
				return err
			}
			queryIDs[q.Name] = id
			if created {
				sum.QueriesCreated++
			} else {
				sum.QueriesUpdated++
			}
		}

		targetIDs := map[string]uuid.UUID{}
		for _, t := range doc.Targets {
			id, created, err := upsertTarget(tx, t, now)
			if err != nil {
				return err
			}
			targetIDs[t.Name] = id
			if created {
				sum.TargetsCreated++
			} else {
				sum.TargetsUpdated++
			}
		}

		for _, g := range doc.Grants {
			created, err := ensureGrant(tx, g, queryIDs, targetIDs, now)
			if err != nil {
				return err
			}
			if created {
				sum.GrantsCreated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func parseID(raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrInvalid, "bad id %q", raw)
	}
	return id, nil
}

func upsertQuery(tx *gorm.DB, q Query, now time.Time) (uuid.UUID, bool, error) {
	id, err := parseID(q.ID)
	if err != nil {
		return uuid.Nil, false, err
	}

	var existing models.Query
	err = tx.Where("name = ?", q.Name).First(&existing).Error
	switch {
	case err == nil:
		if id != uuid.Nil && id != existing.ID {
			return uuid.Nil, false, errors.Wrapf(ErrInvalid, "query %q already exists with id %s", q.Name, existing.ID)
		}
		err = tx.Model(&existing).Updates(map[string]any{
			"statement":  q.Statement,
			"owner":      q.Owner,
			"updated_at": now,
		}).Error
		return existing.ID, false, errors.Wrapf(err, "update query %q", q.Name)
	case errors.Is(err, gorm.ErrRecordNotFound):
		if id == uuid.Nil {
			id = uuid.New()
		}
		err = tx.Create(&models.Query{
			ID:        id,
			Name:      q.Name,
			Statement: q.Statement,
			Owner:     q.Owner,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
		return id, true, errors.Wrapf(err, "create query %q", q.Name)
	default:
		return uuid.Nil, false, errors.Wrapf(err, "load query %q", q.Name)
	}
}

func upsertTarget(tx *gorm.DB, t Target, now time.Time) (uuid.UUID, bool, error) {
	id, err := parseID(t.ID)
	if err != nil {
		return uuid.Nil, false, err
	}

	var existing models.Target
	err = tx.Where("name = ?", t.Name).First(&existing).Error
	switch {
	case err == nil:
		if id != uuid.Nil && id != existing.ID {
			return uuid.Nil, false, errors.Wrapf(ErrInvalid, "target %q already exists with id %s", t.Name, existing.ID)
		}
		err = tx.Model(&existing).Updates(map[string]any{
			"external_id":    t.ExternalID,
			"endpoint":       t.Endpoint,
			"credential_ref": t.CredentialRef,
			"owner":          t.Owner,
			"updated_at":     now,
		}).Error
		return existing.ID, false, errors.Wrapf(err, "update target %q", t.Name)
	case errors.Is(err, gorm.ErrRecordNotFound):
		if id == uuid.Nil {
			id = uuid.New()
		}
		err = tx.Create(&models.Target{
			ID:            id,
			Name:          t.Name,
			ExternalID:    t.ExternalID,
			Endpoint:      t.Endpoint,
			CredentialRef: t.CredentialRef,
			Owner:         t.Owner,
			CreatedAt:     now,
			UpdatedAt:     now,
		}).Error
		return id, true, errors.Wrapf(err, "create target %q", t.Name)
	default:
		return uuid.Nil, false, errors.Wrapf(err, "load target %q", t.Name)
	}
}

func ensureGrant(tx *gorm.DB, g Grant, queries, targets map[string]uuid.UUID, now time.Time) (bool, error) {
	kind := models.ResourceTypeQuery
	name := g.Query
	ids := queries
	var model any = &models.Query{}
	if g.Target != "" {
		kind = models.ResourceTypeTarget
		name = g.Target
		ids = targets
		model = &models.Target{}
	}

	id, ok := ids[name]
	if !ok {
		var found []uuid.UUID
		if err := tx.Model(model).Where("name = ?", name).Limit(1).Pluck("id", &found).Error; err != nil {
			return false, errors.Wrapf(err, "load %s %q", kind, name)
		}
		if len(found) == 0 {
			return false, errors.Wrapf(ErrInvalid, "grant references unknown %s %q", kind, name)
		}
		id = found[0]
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Grant{
		ID:           uuid.New(),
		Principal:    g.Principal,
		ResourceType: kind,
		ResourceID:   id,
		CreatedAt:    now,
	})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "grant %s %q to %s", kind, name, g.Principal)
	}
	return res.RowsAffected > 0, nil
}
