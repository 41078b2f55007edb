package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
	"github.com/ternarybob/quaero/internal/testutil"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func seedReadyItem(t *testing.T, store *testutil.FakeStore, jobID string, stepIndex int, serviceImage string) {
	t.Helper()
	item := &models.WorkItem{JobID: jobID, StepIndex: stepIndex, ServiceImage: serviceImage}
	require.NoError(t, item.Validate())
	require.NoError(t, store.Insert(context.Background(), item))
}

func TestDispatchReturnsNilWhenNoWork(t *testing.T) {
	store := testutil.NewFakeStore()
	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	objStore := testutil.NewFakeObjectStore()
	d := New(p, store, objStore, 50, testLogger())

	payload, err := d.Dispatch(context.Background(), "svc:v1")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestDispatchAssemblesPayloadForStepOne(t *testing.T) {
	store := testutil.NewFakeStore()
	require.NoError(t, store.CreateSteps(context.Background(), []models.WorkflowStep{
		{JobID: "job-1", StepIndex: 1, ServiceImage: "svc:v1", OperationTemplate: "op-template-1"},
	}))
	seedReadyItem(t, store, "job-1", 1, "svc:v1")

	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	objStore := testutil.NewFakeObjectStore()
	d := New(p, store, objStore, 50, testLogger())

	payload, err := d.Dispatch(context.Background(), "svc:v1")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "op-template-1", payload.OperationTemplate)
	require.NotNil(t, payload.MaxCmrGranules)
	assert.Equal(t, 50, *payload.MaxCmrGranules)
	assert.Nil(t, payload.InputCatalog)
}

func TestDispatchOmitsMaxCmrGranulesAfterStepOne(t *testing.T) {
	store := testutil.NewFakeStore()
	require.NoError(t, store.CreateSteps(context.Background(), []models.WorkflowStep{
		{JobID: "job-1", StepIndex: 2, ServiceImage: "svc:v2", OperationTemplate: "op-template-2"},
	}))
	seedReadyItem(t, store, "job-1", 2, "svc:v2")

	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	objStore := testutil.NewFakeObjectStore()
	d := New(p, store, objStore, 50, testLogger())

	payload, err := d.Dispatch(context.Background(), "svc:v2")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Nil(t, payload.MaxCmrGranules)
}

func TestDispatchReadsInputCatalogFragment(t *testing.T) {
	store := testutil.NewFakeStore()
	require.NoError(t, store.CreateSteps(context.Background(), []models.WorkflowStep{
		{JobID: "job-1", StepIndex: 2, ServiceImage: "svc:v2", OperationTemplate: "op-template-2"},
	}))

	objStore := testutil.NewFakeObjectStore()
	require.NoError(t, objStore.Put("catalogs/job-1/2.json", []byte(`{"type":"Catalog"}`)))

	item := &models.WorkItem{JobID: "job-1", StepIndex: 2, ServiceImage: "svc:v2", StacCatalogLocation: "catalogs/job-1/2.json"}
	require.NoError(t, store.Insert(context.Background(), item))

	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	d := New(p, store, objStore, 50, testLogger())

	payload, err := d.Dispatch(context.Background(), "svc:v2")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, []byte(`{"type":"Catalog"}`), payload.InputCatalog)
}

func TestDispatchWrapsObjectStoreFailureAsServerError(t *testing.T) {
	store := testutil.NewFakeStore()
	require.NoError(t, store.CreateSteps(context.Background(), []models.WorkflowStep{
		{JobID: "job-1", StepIndex: 2, ServiceImage: "svc:v2", OperationTemplate: "op-template-2"},
	}))

	item := &models.WorkItem{JobID: "job-1", StepIndex: 2, ServiceImage: "svc:v2", StacCatalogLocation: "missing-key"}
	require.NoError(t, store.Insert(context.Background(), item))

	objStore := testutil.NewFakeObjectStore()
	p := pool.New(store, testLogger(), 3, 10*time.Minute, 0)
	d := New(p, store, objStore, 50, testLogger())

	payload, err := d.Dispatch(context.Background(), "svc:v2")
	assert.Nil(t, payload)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindServer, apperrors.KindOf(err))
}
