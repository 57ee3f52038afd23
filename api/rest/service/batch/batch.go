// Package batch is the read side of batches: status, children and merged
// results. It never calls a remote target.
package batch

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/result"
	"github.com/caesium-cloud/fanout/pkg/db"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Batch interface {
	WithDatabase(*gorm.DB) Batch
	WithMaxRows(int) Batch
	Get(uuid.UUID) (*models.Batch, error)
	List(*ListRequest) (*ListResponse, error)
	Results(uuid.UUID) (result.View, error)
}

type batchService struct {
	ctx     context.Context
	db      *gorm.DB
	maxRows int
}

func Service(ctx context.Context) Batch {
	return &batchService{ctx: ctx, maxRows: result.DefaultMaxRows}
}

func (b *batchService) conn() *gorm.DB {
	if b.db == nil {
		b.db = db.Connection()
	}
	return b.db.WithContext(b.ctx)
}

func (b *batchService) WithDatabase(conn *gorm.DB) Batch {
	b.db = conn
	return b
}

func (b *batchService) WithMaxRows(n int) Batch {
	if n > 0 {
		b.maxRows = n
	}
	return b
}

type ListRequest struct {
	Owner   string
	QueryID string
	Status  string
	Limit   uint64
	Offset  uint64
}

type ListResponse struct {
	Batches models.Batches `json:"batches"`
	Total   int64          `json:"total"`
	Limit   uint64         `json:"limit"`
	Offset  uint64         `json:"offset"`
}

// List pages through batches, newest first.
func (b *batchService) List(req *ListRequest) (*ListResponse, error) {
	if req == nil {
		req = &ListRequest{}
	}

	q := b.conn().Model(&models.Batch{})

	if owner := strings.TrimSpace(req.Owner); owner != "" {
		q = q.Where("owner = ?", owner)
	}

	if req.QueryID != "" {
		id, err := uuid.Parse(req.QueryID)
		if err != nil {
			return nil, errors.Wrapf(corebatch.ErrInvalidRequest, "query_id %q", req.QueryID)
		}
		q = q.Where("query_id = ?", id)
	}

	if req.Status != "" {
		if !validStatus(corebatch.Status(req.Status)) {
			return nil, errors.Wrapf(corebatch.ErrInvalidRequest, "status %q", req.Status)
		}
		q = q.Where("status = ?", req.Status)
	}

	q = q.Session(&gorm.Session{})

	resp := &ListResponse{Batches: models.Batches{}, Limit: req.Limit, Offset: req.Offset}
	if err := q.Count(&resp.Total).Error; err != nil {
		return nil, errors.Wrap(err, "count batches")
	}

	switch {
	case resp.Limit == 0:
		resp.Limit = DefaultListLimit
	case resp.Limit > MaxListLimit:
		resp.Limit = MaxListLimit
	}

	if err := q.Order("created_at DESC").Order("id").
		Limit(int(resp.Limit)).
		Offset(int(resp.Offset)).
		Find(&resp.Batches).Error; err != nil {
		return nil, errors.Wrap(err, "list batches")
	}

	return resp, nil
}

func validStatus(s corebatch.Status) bool {
	switch s {
	case corebatch.StatusPending, corebatch.StatusRunning, corebatch.StatusCompleted,
		corebatch.StatusPartial, corebatch.StatusFailed, corebatch.StatusCancelled:
		return true
	}
	return false
}

// Get loads a batch with its children in submission order.
func (b *batchService) Get(id uuid.UUID) (*models.Batch, error) {
	var out models.Batch
	if err := b.conn().Preload("Children").First(&out, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(corebatch.ErrBatchNotFound, "batch %s", id)
		}
		return nil, errors.Wrapf(err, "load batch %s", id)
	}

	orderChildren(&out)
	return &out, nil
}

// orderChildren sorts children by the position of their target in the
// submitted target list.
func orderChildren(b *models.Batch) {
	var ids []uuid.UUID
	if err := json.Unmarshal(b.TargetIDs, &ids); err != nil {
		return
	}

	pos := make(map[uuid.UUID]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	sort.SliceStable(b.Children, func(i, j int) bool {
		return pos[b.Children[i].TargetID] < pos[b.Children[j].TargetID]
	})
}

// Results merges the stored rows of a batch's children.
func (b *batchService) Results(id uuid.UUID) (result.View, error) {
	bt, err := b.Get(id)
	if err != nil {
		return result.View{}, err
	}

	var rows []*models.ChildResult
	ids := make([]uuid.UUID, 0, len(bt.Children))
	for _, c := range bt.Children {
		if corebatch.ChildStatus(c.Status) == corebatch.ChildCompleted {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) > 0 {
		if err := b.conn().Where("child_id IN ?", ids).Find(&rows).Error; err != nil {
			return result.View{}, errors.Wrapf(err, "load results of batch %s", id)
		}
	}

	byChild := make(map[uuid.UUID]*models.ChildResult, len(rows))
	for _, r := range rows {
		byChild[r.ChildID] = r
	}

	sources := make([]result.Source, 0, len(bt.Children))
	for _, c := range bt.Children {
		sources = append(sources, result.Source{Child: c, Result: byChild[c.ID]})
	}

	return result.Build(bt, sources, b.maxRows)
}
