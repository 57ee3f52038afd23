package batch

import (
	"github.com/caesium-cloud/fanout/pkg/jsonmap"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

const DefaultMaxBatchSize = 100

// SubmitRequest asks for one query to run across a set of targets.
type SubmitRequest struct {
	QueryID          uuid.UUID                    `json:"query_id" yaml:"query_id"`
	TargetIDs        []uuid.UUID                  `json:"target_ids" yaml:"target_ids"`
	SharedParameters map[string]any               `json:"shared_parameters,omitempty" yaml:"shared_parameters,omitempty"`
	TargetOverrides  map[uuid.UUID]map[string]any `json:"target_overrides,omitempty" yaml:"target_overrides,omitempty"`
	Label            string                       `json:"label,omitempty" yaml:"label,omitempty"`
}

// Validate checks the request shape. It does not touch storage.
func (r *SubmitRequest) Validate(maxSize int) error {
	if maxSize < 1 {
		maxSize = DefaultMaxBatchSize
	}

	if r.QueryID == uuid.Nil {
		return errors.Wrap(ErrInvalidRequest, "query_id is required")
	}

	n := len(r.TargetIDs)
	if n == 0 {
		return errors.Wrap(ErrInvalidRequest, "at least one target is required")
	}
	if n > maxSize {
		return errors.Wrapf(ErrInvalidRequest, "%d targets exceeds the limit of %d", n, maxSize)
	}

	seen := make(map[uuid.UUID]struct{}, n)
	for _, id := range r.TargetIDs {
		if id == uuid.Nil {
			return errors.Wrap(ErrInvalidRequest, "target ids must not be empty")
		}
		if _, dup := seen[id]; dup {
			return errors.Wrapf(ErrInvalidRequest, "target %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	for id := range r.TargetOverrides {
		if _, ok := seen[id]; !ok {
			return errors.Wrapf(ErrInvalidRequest, "override given for target %s which is not in the batch", id)
		}
	}

	return nil
}

// Parameters returns the effective parameters for one target: the shared
// map with that target's override laid on top, key by key.
func (r *SubmitRequest) Parameters(targetID uuid.UUID) datatypes.JSONMap {
	return jsonmap.Merge(r.SharedParameters, r.TargetOverrides[targetID])
}
