package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/action"
	"triptimer/internal/jobs"
	"triptimer/internal/storage"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

type fakeOps struct {
	pending []jobs.Job
	initN   int
	initErr error
	gotRun  [2]string
}

func (f *fakeOps) InitializeAll(context.Context) (int, error) { return f.initN, f.initErr }

func (f *fakeOps) ScheduleFor(_ context.Context, id string) ([]jobs.Job, error) {
	if id != "t1" {
		return nil, trips.ErrSubjectNotFound
	}
	return []jobs.Job{jobs.New("t1", "", jobs.RefreshMetadata, time.Now().Add(time.Hour))}, nil
}

func (f *fakeOps) RunNow(_ context.Context, subjectID, targetID string) (action.Result, error) {
	f.gotRun = [2]string{subjectID, targetID}
	if subjectID != "t1" {
		return action.Result{}, trips.ErrSubjectNotFound
	}
	return action.Result{Key: "refresh:t1", Outcome: action.OutcomeCompleted, OldValue: "CRH380B", NewValue: "CR400AF", Changed: true}, nil
}

func (f *fakeOps) ListPendingJobs(context.Context) ([]jobs.Job, error) { return f.pending, nil }

type fakeLister struct{ status jobs.Status }

func (f *fakeLister) ListByStatus(_ context.Context, st jobs.Status, _ int) ([]jobs.Job, error) {
	f.status = st
	return nil, nil
}

func newServer(t *testing.T, ops *fakeOps) (*Server, *storage.DB, *fakeLister) {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "admin.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	lister := &fakeLister{}
	s := New(Config{}, Deps{
		Ops:     ops,
		Jobs:    lister,
		Audit:   db,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) }),
		Health: func(context.Context) (map[string]any, error) {
			return map[string]any{"armed": 2}, nil
		},
	}, logx.Nop())
	return s, db, lister
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestPendingAndHealth(t *testing.T) {
	ops := &fakeOps{pending: []jobs.Job{jobs.New("t1", "x", jobs.NotifyDeparture, time.Now())}}
	s, _, _ := newServer(t, ops)

	rec, body := do(t, s, http.MethodGet, "/jobs/pending")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])

	rec, body = do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 2.0, body["armed"])

	rec, _ = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok_metric")
}

func TestJobsByStatus(t *testing.T) {
	s, _, lister := newServer(t, &fakeOps{})

	rec, body := do(t, s, http.MethodGet, "/jobs/?status=failed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.StatusFailed, lister.status)
	assert.Equal(t, []any{}, body["jobs"])

	rec, _ = do(t, s, http.MethodGet, "/jobs/?status=weird")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResyncAndScheduleAreAudited(t *testing.T) {
	ops := &fakeOps{initN: 6}
	s, db, _ := newServer(t, ops)

	rec, body := do(t, s, http.MethodPost, "/jobs/resync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6.0, body["jobs"])

	ops.initErr = errors.New("subject t9: boom")
	rec, _ = do(t, s, http.MethodPost, "/jobs/resync")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/subjects/t1/schedule")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodPost, "/subjects/nope/schedule")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries, err := db.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "subject.schedule", entries[0].Action)
	assert.False(t, entries[0].OK)
	assert.Equal(t, "jobs.resync", entries[3].Action)
	assert.True(t, entries[3].OK)

	rec, body = do(t, s, http.MethodGet, "/audit?limit=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"], 2)
}

func TestRunNow(t *testing.T) {
	ops := &fakeOps{}
	s, _, _ := newServer(t, ops)

	rec, body := do(t, s, http.MethodPost, "/subjects/t1/run-now?target=sub-9")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"t1", "sub-9"}, ops.gotRun)
	assert.Equal(t, true, body["success"])
	res := body["result"].(map[string]any)
	assert.Equal(t, "CRH380B", res["old_value"])
	assert.Equal(t, "CR400AF", res["new_value"])

	rec, _ = do(t, s, http.MethodPost, "/subjects/zzz/run-now")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/subjects/t1/run-now")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
