package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/models"
)

// fakeStore is a minimal in-memory interfaces.Pool used by the pool unit
// tests.
type fakeStore struct {
	items         map[int64]*models.WorkItem
	nextID        int64
	insertErr     error
	leaseErr      error
	leaseReturn   *models.WorkItem
	requeueErr    error
	requeueCalls  []int64
	requeueReady  []time.Time
	cancelAllErr  error
	canceledJobs  []string
	expiredLeases []models.WorkItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[int64]*models.WorkItem)}
}

func (f *fakeStore) Insert(ctx context.Context, item *models.WorkItem) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	item.ID = f.nextID
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeStore) Lease(ctx context.Context, serviceImage string, visibilityTimeout time.Duration) (*models.WorkItem, error) {
	if f.leaseErr != nil {
		return nil, f.leaseErr
	}
	return f.leaseReturn, nil
}

func (f *fakeStore) Complete(ctx context.Context, itemID int64, outcome models.WorkItemStatus, resultURIs []string, outputSizes []int64, errorMessage string) (*models.WorkItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, errors.New("not found")
	}
	item.Status = outcome
	item.ResultURIs = resultURIs
	item.OutputItemSizes = outputSizes
	item.ErrorMessage = errorMessage
	return item, nil
}

func (f *fakeStore) Requeue(ctx context.Context, itemID int64, retryLimit int, readyNotBefore time.Time) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeueCalls = append(f.requeueCalls, itemID)
	f.requeueReady = append(f.requeueReady, readyNotBefore)
	if item, ok := f.items[itemID]; ok {
		item.Status = models.ItemReady
		item.RetryCount++
	}
	return nil
}

func (f *fakeStore) CancelAllForJob(ctx context.Context, jobID string) error {
	if f.cancelAllErr != nil {
		return f.cancelAllErr
	}
	f.canceledJobs = append(f.canceledJobs, jobID)
	return nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID int64) (*models.WorkItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, errors.New("not found")
	}
	return item, nil
}

func (f *fakeStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]models.WorkItem, error) {
	return f.expiredLeases, nil
}

func (f *fakeStore) ListSuccessfulOutputs(ctx context.Context, jobID string, stepIndex int) ([]string, error) {
	var out []string
	for _, item := range f.items {
		if item.JobID == jobID && item.StepIndex == stepIndex && item.Status == models.ItemSuccessful {
			out = append(out, item.ResultURIs...)
		}
	}
	return out, nil
}

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func TestPoolInsertRejectsInvalidItem(t *testing.T) {
	store := newFakeStore()
	p := New(store, testLogger(), 3, 10*time.Minute, 2*time.Second)

	err := p.Insert(context.Background(), &models.WorkItem{JobID: ""})
	assert.Error(t, err)
}

func TestPoolInsertAssignsID(t *testing.T) {
	store := newFakeStore()
	p := New(store, testLogger(), 3, 10*time.Minute, 2*time.Second)

	item := &models.WorkItem{JobID: "job-1", StepIndex: 1, ServiceImage: "svc:v1"}
	require.NoError(t, p.Insert(context.Background(), item))
	assert.Equal(t, int64(1), item.ID)
}

func TestPoolLeaseReturnsNilWhenNoWork(t *testing.T) {
	store := newFakeStore()
	p := New(store, testLogger(), 3, 10*time.Minute, 2*time.Second)

	item, err := p.Lease(context.Background(), "svc:v1")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestPoolRequeueOnFailureRespectsRetryLimit(t *testing.T) {
	store := newFakeStore()
	p := New(store, testLogger(), 2, 10*time.Minute, 0)
	store.items[1] = &models.WorkItem{ID: 1, Status: models.ItemRunning}

	retried, err := p.RequeueOnFailure(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.True(t, retried)

	retried, err = p.RequeueOnFailure(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, retried, "retryCount at the limit should not be retried again")
}

func TestPoolRequeueOnFailureAppliesJitterWithinBound(t *testing.T) {
	store := newFakeStore()
	jitter := 50 * time.Millisecond
	p := New(store, testLogger(), 5, 10*time.Minute, jitter)
	store.items[1] = &models.WorkItem{ID: 1, Status: models.ItemRunning}

	before := time.Now()
	_, err := p.RequeueOnFailure(context.Background(), 1, 0)
	require.NoError(t, err)

	require.Len(t, store.requeueReady, 1)
	readyAt := store.requeueReady[0]
	assert.True(t, !readyAt.Before(before))
	assert.True(t, readyAt.Before(before.Add(jitter+time.Second)))
}

func TestPoolListExpiredLeasesDelegates(t *testing.T) {
	store := newFakeStore()
	store.expiredLeases = []models.WorkItem{{ID: 1}, {ID: 2}}
	p := New(store, testLogger(), 3, 10*time.Minute, 0)

	got, err := p.ListExpiredLeases(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPoolRetryLimit(t *testing.T) {
	p := New(newFakeStore(), testLogger(), 7, time.Minute, 0)
	assert.Equal(t, 7, p.RetryLimit())
}
