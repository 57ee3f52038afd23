package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caesium-cloud/fanout/api/rest/principal"
	"github.com/caesium-cloud/fanout/internal/access"
	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/event"
	"github.com/caesium-cloud/fanout/internal/governor"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/remote"
	"github.com/caesium-cloud/fanout/internal/remote/remotetest"
	"github.com/caesium-cloud/fanout/internal/retry"
	"github.com/caesium-cloud/fanout/internal/runner"
	"github.com/caesium-cloud/fanout/internal/target"
	"github.com/caesium-cloud/fanout/internal/testutil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	e      *echo.Echo
	db     *gorm.DB
	bus    event.Bus
	remote *remotetest.Client
	coord  *corebatch.Coordinator
	query  *models.Query
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenTestDB(t)
	f := &fixture{
		e:      echo.New(),
		db:     db,
		bus:    event.New(),
		remote: remotetest.New(),
		query:  testutil.SeedQuery(t, db, "alice"),
	}

	checker := access.New(db)
	f.coord = corebatch.New(context.Background(), corebatch.Deps{
		Store:    corebatch.NewStore(db),
		Governor: governor.New(2),
		Executor: runner.New(f.remote, runner.Config{
			PollInitial: time.Millisecond,
			PollMax:     5 * time.Millisecond,
			PollTimeout: time.Second,
		}),
		Targets: target.New(db, checker, target.WithDefaultEndpoint("http://remote.test")),
		Access:  checker,
		Bus:     f.bus,
	}, corebatch.Config{
		NodeID: "test-node",
		Retry:  retry.Policy{MaxAttempts: 2, Base: 2, Unit: time.Millisecond},
	})
	t.Cleanup(f.coord.Shutdown)

	New(f.coord, f.bus, WithDatabase(db)).Bind(f.e.Group("/v1", principal.Middleware("")))
	return f
}

func (f *fixture) do(t *testing.T, method, path, who, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if who != "" {
		req.Header.Set(principal.DefaultHeader, who)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

// pending stores a batch without dispatching any child.
func (f *fixture) pending(t *testing.T, names ...string) *models.Batch {
	t.Helper()

	req := &corebatch.SubmitRequest{QueryID: f.query.ID}
	var targets []*models.Target
	for _, name := range names {
		tgt := testutil.SeedTarget(t, f.db, "alice", name)
		targets = append(targets, tgt)
		req.TargetIDs = append(req.TargetIDs, tgt.ID)
	}
	b, err := corebatch.NewStore(f.db).Create(context.Background(), "alice", req, targets)
	require.NoError(t, err)
	return b
}

func submitBody(queryID uuid.UUID, targets ...uuid.UUID) string {
	buf, _ := json.Marshal(map[string]any{
		"query_id":          queryID,
		"target_ids":        targets,
		"shared_parameters": map[string]any{"day": "2026-10-01"},
	})
	return string(buf)
}

func TestPostRunsBatchToCompletion(t *testing.T) {
	f := setup(t)
	a := testutil.SeedTarget(t, f.db, "alice", "a")
	b := testutil.SeedTarget(t, f.db, "alice", "b")
	f.remote.Script("ext-a", &remotetest.Script{
		Result: &remote.ResultSet{Columns: []string{"users"}, Rows: [][]any{{42}}},
	})

	rec := f.do(t, http.MethodPost, "/v1/batches", "alice", submitBody(f.query.ID, a.ID, b.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created PostResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "running", created.Status)
	require.Equal(t, 2, created.TotalTargets)

	f.coord.Wait()

	rec = f.do(t, http.MethodGet, "/v1/batches/"+created.BatchID.String(), "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "completed", got.Status)
	require.Equal(t, 2, got.CompletedTargets)
	require.Len(t, got.Children, 2)
	require.Equal(t, a.ID, got.Children[0].TargetID)

	rec = f.do(t, http.MethodGet, "/v1/batches/"+created.BatchID.String()+"/results", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		State   string `json:"state"`
		Dataset struct {
			Columns  []string `json:"columns"`
			RowCount int      `json:"row_count"`
		} `json:"dataset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "complete", view.State)
	require.Equal(t, []string{"target_id", "target_name", "users"}, view.Dataset.Columns)
	require.Equal(t, 1, view.Dataset.RowCount)

	calls := f.remote.Calls()
	require.NotEmpty(t, calls)
	require.Equal(t, "2026-10-01", calls[0].Request.Parameters["day"])
}

func TestPostRejections(t *testing.T) {
	f := setup(t)
	tgt := testutil.SeedTarget(t, f.db, "alice", "a")

	rec := f.do(t, http.MethodPost, "/v1/batches", "alice", submitBody(f.query.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/batches", "alice", submitBody(uuid.New(), tgt.ID))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/batches", "alice", submitBody(f.query.ID, uuid.New()))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/batches", "mallory", submitBody(f.query.ID, tgt.ID))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/batches", "alice", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var n int64
	require.NoError(t, f.db.Model(&models.Batch{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestGetUnknownAndMalformed(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/batches/"+uuid.NewString(), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/batches/not-a-uuid", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/batches/"+uuid.NewString()+"/results", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsConflictWhileNothingResolved(t *testing.T) {
	f := setup(t)
	b := f.pending(t, "a", "b")

	rec := f.do(t, http.MethodGet, "/v1/batches/"+b.ID.String()+"/results", "alice", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := setup(t)
	b := f.pending(t, "a", "b")
	path := "/v1/batches/" + b.ID.String() + "/cancel"

	var resp CancelResponse
	rec := f.do(t, http.MethodPost, path, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Cancelled)

	rec = f.do(t, http.MethodPost, path, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Cancelled)

	rec = f.do(t, http.MethodGet, "/v1/batches/"+b.ID.String()+"/results", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/batches/"+uuid.NewString()+"/cancel", "alice", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	f := setup(t)
	f.pending(t, "a")
	f.pending(t, "b")

	rec := f.do(t, http.MethodGet, "/v1/batches?owner=alice&limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Batches []models.Batch `json:"batches"`
		Total   int64          `json:"total"`
		Limit   uint64         `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Batches, 1)
	require.Equal(t, uint64(1), resp.Limit)

	rec = f.do(t, http.MethodGet, "/v1/batches?limit=lots", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/batches?status=bogus", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsForTerminalBatch(t *testing.T) {
	f := setup(t)
	b := f.pending(t, "a")
	_, err := f.coord.Cancel(context.Background(), b.ID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/batches/"+b.ID.String()+"/events", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: batch_finished")
	require.Contains(t, rec.Body.String(), `"status":"cancelled"`)
}

func TestEventsStreamUntilFinished(t *testing.T) {
	f := setup(t)
	b := f.pending(t, "a")

	srv := httptest.NewServer(f.e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/batches/" + b.ID.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	f.bus.Publish(event.Event{Type: event.TypeChildCompleted, BatchID: uuid.New()})
	f.bus.Publish(event.Event{Type: event.TypeChildCompleted, BatchID: b.ID, Status: "completed"})
	f.bus.Publish(event.Event{Type: event.TypeBatchFinished, BatchID: b.ID, Status: "completed"})

	var events []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	require.Equal(t, []string{"child_completed", "batch_finished"}, events)
}

func TestEventsEndWhenFinishEventIsLost(t *testing.T) {
	f := setup(t)
	b := f.pending(t, "a")

	prev := pingInterval
	pingInterval = 10 * time.Millisecond
	t.Cleanup(func() { pingInterval = prev })

	// a bus that never delivers stands in for a dropped batch_finished
	e := echo.New()
	New(f.coord, event.Nop{}, WithDatabase(f.db)).Bind(e.Group("/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/batches/" + b.ID.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	_, err = corebatch.NewStore(f.db).Cancel(context.Background(), b.ID)
	require.NoError(t, err)

	done := make(chan []string)
	go func() {
		var events []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			if strings.HasPrefix(line, "event: ") {
				events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
			}
		}
		done <- events
	}()

	select {
	case events := <-done:
		require.Equal(t, []string{"batch_finished"}, events)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the batch became terminal")
	}
}
