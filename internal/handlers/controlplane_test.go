package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
	"github.com/ternarybob/quaero/internal/progress"
	"github.com/ternarybob/quaero/internal/testutil"
)

func newControlPlaneFixture(t *testing.T, jobID string, status models.JobStatus) (*ControlPlaneHandler, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	objects := testutil.NewFakeObjectStore()
	broker := testutil.NewFakeBroker()
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{JobID: jobID, Owner: "alice", Status: status}))

	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	engine := progress.New(store, store, p, objects, broker, 50, testLogger())
	return NewControlPlaneHandler(engine, store, testLogger()), store
}

func TestPauseAppliesToEachJobIndependently(t *testing.T) {
	h, store := newControlPlaneFixture(t, "job-1", models.JobRunning)

	body := bytes.NewBufferString(`{"jobIDs":["job-1","job-missing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs/pause", body)
	rec := httptest.NewRecorder()
	h.Pause(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)
	assert.Contains(t, rec.Body.String(), `"error"`)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPaused, job.Status)
}

func TestPauseRejectsMissingJobIDs(t *testing.T) {
	h, _ := newControlPlaneFixture(t, "job-1", models.JobRunning)

	req := httptest.NewRequest(http.MethodPost, "/jobs/pause", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.Pause(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelIsIdempotentAcrossRequests(t *testing.T) {
	h, store := newControlPlaneFixture(t, "job-1", models.JobRunning)

	for i := 0; i < 2; i++ {
		body := bytes.NewBufferString(`{"jobIDs":["job-1"]}`)
		req := httptest.NewRequest(http.MethodPost, "/jobs/cancel", body)
		rec := httptest.NewRecorder()
		h.Cancel(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, job.Status)
}

func TestPutLabelsNormalizesAndDeduplicates(t *testing.T) {
	h, store := newControlPlaneFixture(t, "job-1", models.JobRunning)

	body := bytes.NewBufferString(`{"jobID":"job-1","label":["Urgent"," urgent","Low-Priority"]}`)
	req := httptest.NewRequest(http.MethodPut, "/labels", body)
	rec := httptest.NewRecorder()
	h.PutLabels(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	labels, err := store.ListLabels(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"low-priority", "urgent"}, labels)
}

func TestDeleteLabelsRemovesOne(t *testing.T) {
	h, store := newControlPlaneFixture(t, "job-1", models.JobRunning)
	require.NoError(t, store.AddLabels(context.Background(), "job-1", []string{"urgent", "archive"}))

	body := bytes.NewBufferString(`{"jobID":"job-1","label":"urgent"}`)
	req := httptest.NewRequest(http.MethodDelete, "/labels", body)
	rec := httptest.NewRecorder()
	h.DeleteLabels(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	labels, err := store.ListLabels(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive"}, labels)
}
