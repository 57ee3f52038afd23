package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/catalog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", time.Second, WithPrincipal("alice"))
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost", time.Second)
	require.Error(t, err)
}

func TestSubmit(t *testing.T) {
	queryID, targetID, batchID := uuid.New(), uuid.New(), uuid.New()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/batches", r.URL.Path)
		require.Equal(t, "alice", r.Header.Get("X-Principal"))

		var req batch.SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, queryID, req.QueryID)
		require.Equal(t, []uuid.UUID{targetID}, req.TargetIDs)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"batch_id":"`+batchID.String()+`","status":"running","total_targets":1}`)
	})

	resp, err := c.Submit(context.Background(), &batch.SubmitRequest{QueryID: queryID, TargetIDs: []uuid.UUID{targetID}})
	require.NoError(t, err)
	require.Equal(t, batchID, resp.BatchID)
	require.Equal(t, "running", resp.Status)
	require.Equal(t, 1, resp.TotalTargets)
}

func TestErrorsCarryServerMessage(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"targets abc: access denied"}`)
	})

	_, err := c.Get(context.Background(), uuid.New())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, "targets abc: access denied", apiErr.Message)
}

func TestResultsNotReady(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := c.Results(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestListEncodesFilters(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "alice", r.URL.Query().Get("owner"))
		require.Equal(t, "failed", r.URL.Query().Get("status"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		require.Empty(t, r.URL.Query().Get("offset"))
		_, _ = io.WriteString(w, `{"batches":[],"total":0,"limit":10,"offset":0}`)
	})

	resp, err := c.List(context.Background(), ListOptions{Owner: "alice", Status: "failed", Limit: 10})
	require.NoError(t, err)
	require.Zero(t, resp.Total)
}

func TestCancelAndApplyCatalog(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/catalog/apply":
			var doc catalog.Document
			require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
			require.Len(t, doc.Targets, 1)
			_, _ = io.WriteString(w, `{"targets_created":1}`)
		default:
			_, _ = io.WriteString(w, `{"cancelled":true}`)
		}
	})

	ok, err := c.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := c.ApplyCatalog(context.Background(), &catalog.Document{
		Targets: []catalog.Target{{Name: "eu", ExternalID: "inst-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sum.TargetsCreated)
}
