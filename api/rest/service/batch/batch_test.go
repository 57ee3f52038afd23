package batch

import (
	"context"
	"testing"

	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/result"
	"github.com/caesium-cloud/fanout/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func submit(t *testing.T, db *gorm.DB, owner string, names ...string) *models.Batch {
	t.Helper()

	q := testutil.SeedQuery(t, db, owner)
	req := &corebatch.SubmitRequest{QueryID: q.ID}
	var targets []*models.Target
	for _, name := range names {
		tgt := testutil.SeedTarget(t, db, owner, name)
		targets = append(targets, tgt)
		req.TargetIDs = append(req.TargetIDs, tgt.ID)
	}

	b, err := corebatch.NewStore(db).Create(context.Background(), owner, req, targets)
	require.NoError(t, err)
	return b
}

func finish(t *testing.T, db *gorm.DB, out corebatch.Outcome) {
	t.Helper()
	tr, err := corebatch.NewStore(db).Finish(context.Background(), out)
	require.NoError(t, err)
	require.True(t, tr.Applied)
}

func svc(db *gorm.DB) Batch {
	return Service(context.Background()).WithDatabase(db)
}

func TestGetOrdersChildrenBySubmission(t *testing.T) {
	db := testutil.OpenTestDB(t)
	b := submit(t, db, "alice", "zeta", "alpha", "mid")

	got, err := svc(db).Get(b.ID)
	require.NoError(t, err)
	require.Len(t, got.Children, 3)
	require.Equal(t, "zeta", got.Children[0].TargetName)
	require.Equal(t, "alpha", got.Children[1].TargetName)
	require.Equal(t, "mid", got.Children[2].TargetName)

	_, err = svc(db).Get(uuid.New())
	require.ErrorIs(t, err, corebatch.ErrBatchNotFound)
}

func TestResultsMovesFromNotReadyToComplete(t *testing.T) {
	db := testutil.OpenTestDB(t)
	b := submit(t, db, "alice", "a", "b")

	got, err := svc(db).Get(b.ID)
	require.NoError(t, err)
	first, second := got.Children[0], got.Children[1]

	view, err := svc(db).Results(b.ID)
	require.NoError(t, err)
	require.Equal(t, result.StateNotReady, view.State)
	require.Nil(t, view.Dataset)

	finish(t, db, corebatch.Outcome{
		ChildID:  first.ID,
		Status:   corebatch.ChildCompleted,
		Attempts: 1,
		Columns:  []string{"day", "users"},
		Rows:     [][]any{{"2026-10-01", 12}, {"2026-10-02", 14}},
	})

	view, err = svc(db).Results(b.ID)
	require.NoError(t, err)
	require.Equal(t, result.StatePartial, view.State)
	require.Equal(t, 2, view.Dataset.RowCount)
	require.Equal(t, []string{"target_id", "target_name", "day", "users"}, view.Dataset.Columns)

	finish(t, db, corebatch.Outcome{
		ChildID:      second.ID,
		Status:       corebatch.ChildFailed,
		Attempts:     3,
		ErrorKind:    "timeout",
		ErrorMessage: "remote run timed out",
	})

	view, err = svc(db).Results(b.ID)
	require.NoError(t, err)
	require.Equal(t, result.StateComplete, view.State)
	require.Equal(t, 2, view.Dataset.RowCount)
	require.Len(t, view.Dataset.Targets, 2)
	require.Equal(t, "failed", view.Dataset.Targets[1].Status)
	require.Equal(t, "timeout", view.Dataset.Targets[1].ErrorKind)

	view, err = svc(db).WithMaxRows(1).Results(b.ID)
	require.NoError(t, err)
	require.True(t, view.Dataset.Truncated)
	require.Equal(t, 1, view.Dataset.RowCount)
}

func TestListFiltersAndPages(t *testing.T) {
	db := testutil.OpenTestDB(t)
	first := submit(t, db, "alice", "a1")
	submit(t, db, "alice", "a2")
	submit(t, db, "bob", "b1")

	resp, err := svc(db).List(&ListRequest{Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Batches, 2)
	require.Equal(t, uint64(DefaultListLimit), resp.Limit)

	resp, err = svc(db).List(&ListRequest{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, int64(3), resp.Total)
	require.Len(t, resp.Batches, 1)

	resp, err = svc(db).List(&ListRequest{QueryID: first.QueryID.String()})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.Total)
	require.Equal(t, first.ID, resp.Batches[0].ID)

	resp, err = svc(db).List(&ListRequest{Status: "completed"})
	require.NoError(t, err)
	require.Zero(t, resp.Total)
	require.Empty(t, resp.Batches)

	_, err = svc(db).List(&ListRequest{Status: "exploded"})
	require.ErrorIs(t, err, corebatch.ErrInvalidRequest)

	_, err = svc(db).List(&ListRequest{QueryID: "nope"})
	require.ErrorIs(t, err, corebatch.ErrInvalidRequest)
}
