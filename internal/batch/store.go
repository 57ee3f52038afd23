package batch

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var activeChildStatuses = []string{string(ChildPending), string(ChildRunning)}

// Store persists batches and child executions. Every write that changes a
// child's status recomputes its batch in the same transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Query loads a query definition.
func (s *Store) Query(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	var q models.Query
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrQueryNotFound, "query %s", id)
		}
		return nil, errors.Wrap(err, "load query")
	}
	return &q, nil
}

// Targets loads the given targets in input order. Unknown ids fail with
// ErrTargetNotFound naming every missing id.
func (s *Store) Targets(ctx context.Context, ids []uuid.UUID) ([]*models.Target, error) {
	var found []*models.Target
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, errors.Wrap(err, "load targets")
	}

	byID := make(map[uuid.UUID]*models.Target, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}

	out := make([]*models.Target, 0, len(ids))
	var missing []string
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			missing = append(missing, id.String())
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrTargetNotFound, "unknown targets: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Create persists a batch and one pending child per target in a single
// transaction.
func (s *Store) Create(ctx context.Context, owner string, req *SubmitRequest, targets []*models.Target) (*models.Batch, error) {
	now := s.now()

	targetIDs, err := json.Marshal(req.TargetIDs)
	if err != nil {
		return nil, errors.Wrap(err, "encode target ids")
	}

	var overrides datatypes.JSON
	if len(req.TargetOverrides) > 0 {
		if overrides, err = json.Marshal(req.TargetOverrides); err != nil {
			return nil, errors.Wrap(err, "encode target overrides")
		}
	}

	b := &models.Batch{
		ID:               uuid.New(),
		QueryID:          req.QueryID,
		TargetIDs:        targetIDs,
		SharedParameters: datatypes.JSONMap(req.SharedParameters),
		TargetOverrides:  overrides,
		Label:            req.Label,
		Owner:            owner,
		Status:           string(Derive(Counts{Pending: len(targets)}, false)),
		TotalTargets:     len(targets),
		PendingTargets:   len(targets),
		StartedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	children := make([]*models.ChildExecution, 0, len(targets))
	for _, t := range targets {
		batchID := b.ID
		children = append(children, &models.ChildExecution{
			ID:         uuid.New(),
			BatchID:    &batchID,
			TargetID:   t.ID,
			TargetName: t.Name,
			QueryID:    req.QueryID,
			Parameters: req.Parameters(t.ID),
			Status:     string(ChildPending),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(b).Error; err != nil {
			return errors.Wrap(err, "create batch")
		}
		if err := tx.CreateInBatches(children, 50).Error; err != nil {
			return errors.Wrap(err, "create child executions")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Children = children
	return b, nil
}

// Dispatch is what executing one child needs to know.
type Dispatch struct {
	Child     *models.ChildExecution
	BatchID   uuid.UUID
	Owner     string
	Statement string
}

// Dispatch loads a child with its batch owner and query statement.
func (s *Store) Dispatch(ctx context.Context, childID uuid.UUID) (*Dispatch, error) {
	var child models.ChildExecution
	if err := s.db.WithContext(ctx).First(&child, "id = ?", childID).Error; err != nil {
		return nil, errors.Wrapf(err, "load child %s", childID)
	}
	if child.BatchID == nil {
		return nil, errors.Errorf("child %s has no batch", childID)
	}

	var b models.Batch
	if err := s.db.WithContext(ctx).Select("id", "owner").First(&b, "id = ?", *child.BatchID).Error; err != nil {
		return nil, errors.Wrapf(err, "load batch %s", *child.BatchID)
	}

	var q models.Query
	if err := s.db.WithContext(ctx).Select("id", "statement").First(&q, "id = ?", child.QueryID).Error; err != nil {
		return nil, errors.Wrapf(err, "load query %s", child.QueryID)
	}

	return &Dispatch{
		Child:     &child,
		BatchID:   b.ID,
		Owner:     b.Owner,
		Statement: q.Statement,
	}, nil
}

// Claim moves a child to running under nodeID's lease. It succeeds for a
// pending child or a running child whose lease expired; false means someone
// else holds or finished it.
func (s *Store) Claim(ctx context.Context, childID uuid.UUID, nodeID string, ttl time.Duration) (*models.ChildExecution, bool, error) {
	now := s.now()
	var claimed *models.ChildExecution

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockChildBatch(tx, childID)
		if err != nil || b == nil {
			return err
		}

		res := tx.Model(&models.ChildExecution{}).
			Where("id = ? AND (status = ? OR (status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?))",
				childID, string(ChildPending), string(ChildRunning), now).
			Updates(map[string]any{
				"status":           string(ChildRunning),
				"claimed_by":       nodeID,
				"claim_expires_at": now.Add(ttl),
				"claim_attempt":    gorm.Expr("claim_attempt + 1"),
				"started_at":       gorm.Expr("COALESCE(started_at, ?)", now),
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var child models.ChildExecution
		if err := tx.First(&child, "id = ?", childID).Error; err != nil {
			return err
		}
		if _, _, err := s.recompute(tx, b, now); err != nil {
			return err
		}
		claimed = &child
		return nil
	})
	if err != nil {
		if IsContention(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "claim child %s", childID)
	}
	return claimed, claimed != nil, nil
}

// RenewLease extends nodeID's lease on a running child. False means the
// lease is gone: the child finished, was cancelled or was reclaimed.
func (s *Store) RenewLease(ctx context.Context, childID uuid.UUID, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&models.ChildExecution{}).
		Where("id = ? AND status = ? AND claimed_by = ?", childID, string(ChildRunning), nodeID).
		Updates(map[string]any{
			"claim_expires_at": now.Add(ttl),
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "renew lease on child %s", childID)
	}
	return res.RowsAffected > 0, nil
}

// RecordAttempt stores the attempt number nodeID is about to make, so a
// node that takes the child over later keeps counting from it. False means
// nodeID no longer holds the lease.
func (s *Store) RecordAttempt(ctx context.Context, childID uuid.UUID, nodeID string, attempt int) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ChildExecution{}).
		Where("id = ? AND status = ? AND claimed_by = ?", childID, string(ChildRunning), nodeID).
		Updates(map[string]any{
			"attempts":   attempt,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "record attempt on child %s", childID)
	}
	return res.RowsAffected > 0, nil
}

// Outcome is the terminal result of one child.
type Outcome struct {
	ChildID      uuid.UUID
	Status       ChildStatus
	Attempts     int
	RunID        string
	Columns      []string
	Rows         [][]any
	ErrorKind    string
	ErrorMessage string
	Duration     time.Duration
}

// Transition reports what a write did.
type Transition struct {
	// Applied is false when the child was already terminal.
	Applied bool
	Child   *models.ChildExecution
	Batch   *models.Batch
	// Finished is true for exactly the write that made the batch terminal.
	Finished bool
}

// Finish records a child's terminal outcome and recomputes its batch. A
// child that is already terminal is left untouched.
func (s *Store) Finish(ctx context.Context, out Outcome) (*Transition, error) {
	if !out.Status.Terminal() {
		return nil, errors.Errorf("child status %q is not terminal", out.Status)
	}

	now := s.now()
	tr := &Transition{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockChildBatch(tx, out.ChildID)
		if err != nil || locked == nil {
			return err
		}

		res := tx.Model(&models.ChildExecution{}).
			Where("id = ? AND status IN ?", out.ChildID, activeChildStatuses).
			Updates(map[string]any{
				"status":           string(out.Status),
				"attempts":         out.Attempts,
				"row_count":        len(out.Rows),
				"duration_millis":  out.Duration.Milliseconds(),
				"error_kind":       out.ErrorKind,
				"error_message":    out.ErrorMessage,
				"remote_run_id":    out.RunID,
				"claimed_by":       "",
				"claim_expires_at": nil,
				"completed_at":     now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		tr.Applied = true

		if out.Status == ChildCompleted {
			if err := storeResult(tx, out, now); err != nil {
				return err
			}
		}

		var child models.ChildExecution
		if err := tx.First(&child, "id = ?", out.ChildID).Error; err != nil {
			return err
		}
		tr.Child = &child

		b, finished, err := s.recompute(tx, locked, now)
		if err != nil {
			return err
		}
		tr.Batch = b
		tr.Finished = finished
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "finish child %s", out.ChildID)
	}
	return tr, nil
}

func storeResult(tx *gorm.DB, out Outcome, now time.Time) error {
	columns := out.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := out.Rows
	if rows == nil {
		rows = [][]any{}
	}

	cols, err := json.Marshal(columns)
	if err != nil {
		return errors.Wrap(err, "encode result columns")
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, "encode result rows")
	}

	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&models.ChildResult{
		ChildID:   out.ChildID,
		Columns:   cols,
		Rows:      data,
		RowCount:  len(out.Rows),
		CreatedAt: now,
	}).Error
}

// CancelResult reports what Cancel did.
type CancelResult struct {
	Cancelled bool
	Batch     *models.Batch
	// Children are the ids moved to cancelled by this call.
	Children []uuid.UUID
}

// Cancel requests cancellation of a non-terminal batch and cancels every
// pending or running child in the same transaction. A batch that is
// already terminal is left alone and Cancelled is false.
func (s *Store) Cancel(ctx context.Context, batchID uuid.UUID) (*CancelResult, error) {
	now := s.now()
	out := &CancelResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Batch
		if err := lockBatch(tx, batchID, &b); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(ErrBatchNotFound, "batch %s", batchID)
			}
			return err
		}
		if b.CancelRequested || Status(b.Status).Terminal() {
			out.Batch = &b
			return nil
		}

		if err := tx.Model(&models.Batch{}).
			Where("id = ?", batchID).
			Update("cancel_requested", true).Error; err != nil {
			return err
		}
		b.CancelRequested = true

		if err := tx.Model(&models.ChildExecution{}).
			Where("batch_id = ? AND status IN ?", batchID, activeChildStatuses).
			Pluck("id", &out.Children).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ChildExecution{}).
			Where("batch_id = ? AND status IN ?", batchID, activeChildStatuses).
			Updates(map[string]any{
				"status":           string(ChildCancelled),
				"error_kind":       "cancelled",
				"error_message":    "batch cancelled",
				"claimed_by":       "",
				"claim_expires_at": nil,
				"completed_at":     now,
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}

		updated, _, err := s.recompute(tx, &b, now)
		if err != nil {
			return err
		}
		out.Cancelled = true
		out.Batch = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "cancel batch %s", batchID)
	}
	return out, nil
}

// CancelRequested reports whether cancellation was requested for a batch.
func (s *Store) CancelRequested(ctx context.Context, batchID uuid.UUID) (bool, error) {
	var b models.Batch
	err := s.db.WithContext(ctx).Select("id", "cancel_requested").First(&b, "id = ?", batchID).Error
	if err != nil {
		return false, errors.Wrapf(err, "load batch %s", batchID)
	}
	return b.CancelRequested, nil
}

// Orphans lists children no live worker is driving: pending ones older than
// grace and running ones whose lease expired, in batches still running.
func (s *Store) Orphans(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	now := s.now()
	if limit <= 0 {
		limit = 64
	}

	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.ChildExecution{}).
		Joins("JOIN batches ON batches.id = child_executions.batch_id").
		Where("batches.cancel_requested = ? AND batches.status IN ?", false, []string{string(StatusPending), string(StatusRunning)}).
		Where(
			"(child_executions.status = ? AND child_executions.created_at < ?) OR "+
				"(child_executions.status = ? AND child_executions.claim_expires_at IS NOT NULL AND child_executions.claim_expires_at < ?)",
			string(ChildPending), now.Add(-grace),
			string(ChildRunning), now,
		).
		Order("child_executions.created_at ASC").
		Limit(limit).
		Pluck("child_executions.id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "list orphaned children")
	}
	return ids, nil
}

// recompute derives the batch's counters and status from its children. It
// must run inside the transaction that changed a child, with b already
// locked by lockBatch. The returned flag is true when this call moved the
// batch into a terminal status.
func (s *Store) recompute(tx *gorm.DB, locked *models.Batch, now time.Time) (*models.Batch, bool, error) {
	b := *locked
	batchID := b.ID

	var rows []struct {
		Status string
		N      int
	}
	if err := tx.Model(&models.ChildExecution{}).
		Select("status, COUNT(*) AS n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, false, errors.Wrap(err, "count children")
	}

	var counts Counts
	for _, r := range rows {
		counts.Add(ChildStatus(r.Status), r.N)
	}

	var kinds []string
	if err := tx.Model(&models.ChildExecution{}).
		Where("batch_id = ? AND status = ? AND error_kind <> ''", batchID, string(ChildFailed)).
		Distinct().
		Pluck("error_kind", &kinds).Error; err != nil {
		return nil, false, errors.Wrap(err, "collect failure kinds")
	}
	sort.Strings(kinds)

	status := Derive(counts, b.CancelRequested)
	wasTerminal := Status(b.Status).Terminal()

	updates := map[string]any{
		"status":            string(status),
		"total_targets":     counts.Total(),
		"pending_targets":   counts.Pending,
		"running_targets":   counts.Running,
		"completed_targets": counts.Completed,
		"failed_targets":    counts.Failed,
		"cancelled_targets": counts.Cancelled,
		"error":             strings.Join(kinds, ","),
		"updated_at":        now,
	}
	if status.Terminal() && b.CompletedAt == nil {
		updates["completed_at"] = now
		b.CompletedAt = &now
	}

	if err := tx.Model(&models.Batch{}).Where("id = ?", batchID).Updates(updates).Error; err != nil {
		return nil, false, errors.Wrap(err, "update batch")
	}

	b.Status = string(status)
	b.TotalTargets = counts.Total()
	b.PendingTargets = counts.Pending
	b.RunningTargets = counts.Running
	b.CompletedTargets = counts.Completed
	b.FailedTargets = counts.Failed
	b.CancelledTargets = counts.Cancelled
	b.Error = updates["error"].(string)
	b.UpdatedAt = now

	return &b, !wasTerminal && status.Terminal(), nil
}

// lockChildBatch locks the batch owning childID. Every write that touches
// both a batch and its children takes the batch lock first, so concurrent
// finishes, claims and cancels queue on one row instead of deadlocking.
// A nil batch with a nil error means the child does not exist.
func lockChildBatch(tx *gorm.DB, childID uuid.UUID) (*models.Batch, error) {
	var child models.ChildExecution
	err := tx.Select("id", "batch_id").First(&child, "id = ?", childID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if child.BatchID == nil {
		return nil, errors.Errorf("child %s has no batch", childID)
	}

	var b models.Batch
	if err := lockBatch(tx, *child.BatchID, &b); err != nil {
		return nil, errors.Wrapf(err, "lock batch %s", *child.BatchID)
	}
	return &b, nil
}

// lockBatch reads the batch row with FOR UPDATE. sqlite has no row locks;
// its writers are already serialised.
func lockBatch(tx *gorm.DB, batchID uuid.UUID, b *models.Batch) error {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(b, "id = ?", batchID).Error
}

// IsContention reports whether err is a lock or serialisation conflict
// another writer caused, rather than a real failure.
func IsContention(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
