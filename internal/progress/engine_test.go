package progress

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

type fixture struct {
	store   *testutil.FakeStore
	objects *testutil.FakeObjectStore
	broker  *testutil.FakeBroker
	engine  *Engine
}

func newFixture() *fixture {
	store := testutil.NewFakeStore()
	objects := testutil.NewFakeObjectStore()
	broker := testutil.NewFakeBroker()
	p := pool.New(store, testLogger(), 2, 10*time.Minute, 0)
	engine := New(store, store, p, objects, broker, 50, testLogger())
	return &fixture{store: store, objects: objects, broker: broker, engine: engine}
}

func (f *fixture) createJob(t *testing.T, jobID string, ignoreErrors bool) {
	t.Helper()
	require.NoError(t, f.store.CreateJob(context.Background(), &models.Job{
		JobID: jobID, Owner: "alice", Status: models.JobRunning, IgnoreErrors: ignoreErrors,
	}))
}

func (f *fixture) createStep(t *testing.T, jobID string, stepIndex int, weight float64, hasAggregatedOutput bool) {
	t.Helper()
	require.NoError(t, f.store.CreateSteps(context.Background(), []models.WorkflowStep{
		{JobID: jobID, StepIndex: stepIndex, ServiceImage: "svc:v1", ProgressWeight: weight, HasAggregatedOutput: hasAggregatedOutput},
	}))
}

func (f *fixture) insertItem(t *testing.T, jobID string, stepIndex int) *models.WorkItem {
	t.Helper()
	item := &models.WorkItem{JobID: jobID, StepIndex: stepIndex, ServiceImage: "svc:v1"}
	require.NoError(t, f.store.Insert(context.Background(), item))
	require.NoError(t, f.store.IncrementWorkItemCount(context.Background(), jobID, stepIndex, 1))
	return item
}

func TestReportOutcomeRejectsTerminalItem(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)
	_, err := f.store.Complete(context.Background(), item.ID, models.ItemSuccessful, nil, nil, "")
	require.NoError(t, err)

	err = f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemSuccessful})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestReportOutcomeRejectsTerminalJob(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.store.Jobs["job-1"].Status = models.JobCanceled
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)

	err := f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemSuccessful})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestReportSuccessWithNoNextStepAppendsJobLinks(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)

	err := f.engine.ReportOutcome(context.Background(), Report{
		ItemID: item.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://bucket/out.nc"},
	})
	require.NoError(t, err)

	links, err := f.store.ListJobLinks(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "s3://bucket/out.nc", links[0].Href)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobSuccessful, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestReportSuccessFansOutNonAggregatingNextStep(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 0.5, false)
	f.createStep(t, "job-1", 2, 0.5, false)
	item := f.insertItem(t, "job-1", 1)

	err := f.engine.ReportOutcome(context.Background(), Report{
		ItemID: item.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://a", "s3://b"},
	})
	require.NoError(t, err)

	step2, err := f.store.GetStep(context.Background(), "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, step2.WorkItemCount)
}

func TestReportSuccessEmitsAggregateOnlyWhenStepComplete(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 0.5, false)
	f.createStep(t, "job-1", 2, 0.5, true)
	item1 := f.insertItem(t, "job-1", 1)
	item2 := f.insertItem(t, "job-1", 1)

	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{
		ItemID: item1.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://a"},
	}))
	step2, err := f.store.GetStep(context.Background(), "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, step2.WorkItemCount, "aggregate should not emit until the whole step completes")

	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{
		ItemID: item2.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://b"},
	}))
	step2, err = f.store.GetStep(context.Background(), "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, step2.WorkItemCount, "aggregate emits exactly one next-step item")
}

func TestReportFailureRetriesUnderLimit(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)

	err := f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemFailed, ErrorMessage: "boom"})
	require.NoError(t, err)

	got, err := f.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemReady, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestReportFailureAppliesPermanentFailureAtRetryLimit(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)
	f.store.Items[item.ID].RetryCount = 2 // pool was constructed with retryLimit=2

	err := f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemFailed, ErrorMessage: "boom"})
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "boom", job.TerminalReason)

	errs, err := f.store.ListJobErrors(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	status, err := f.broker.Await(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, status)
}

func TestReportFailureDegradesWhenIgnoreErrorsSet(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", true)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)
	f.store.Items[item.ID].RetryCount = 2

	err := f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemFailed, ErrorMessage: "boom"})
	require.NoError(t, err)

	// The only item failed permanently and no work remains, so the degraded
	// job finishes as complete_with_errors rather than failed.
	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleteWithErrors, job.Status)
}

func TestReportFailureDegradedStepStillUnblocksAggregateAndJobCompletes(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", true)
	f.createStep(t, "job-1", 1, 0.5, false)
	f.createStep(t, "job-1", 2, 0.5, true)
	items := []*models.WorkItem{
		f.insertItem(t, "job-1", 1),
		f.insertItem(t, "job-1", 1),
		f.insertItem(t, "job-1", 1),
		f.insertItem(t, "job-1", 1),
	}
	f.store.Items[items[3].ID].RetryCount = 2 // already at retry limit: next failure is permanent

	for _, item := range items[:3] {
		require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{
			ItemID: item.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://out"},
		}))
	}
	step1, err := f.store.GetStep(context.Background(), "job-1", 1)
	require.NoError(t, err)
	assert.False(t, step1.IsComplete(), "one item of four is still outstanding")

	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{
		ItemID: items[3].ID, Outcome: models.ItemFailed, ErrorMessage: "boom",
	}))

	step1, err = f.store.GetStep(context.Background(), "job-1", 1)
	require.NoError(t, err)
	assert.True(t, step1.IsComplete(), "permanent failure must still count toward step completion")

	step2, err := f.store.GetStep(context.Background(), "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, step2.WorkItemCount, "aggregate must fire once the degraded step is complete")

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobRunningWithErrors, job.Status)

	var aggItem *models.WorkItem
	for _, it := range f.store.Items {
		if it.StepIndex == 2 {
			aggItem = it
		}
	}
	require.NotNil(t, aggItem)
	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{
		ItemID: aggItem.ID, Outcome: models.ItemSuccessful, ResultURIs: []string{"s3://final"},
	}))

	job, err = f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleteWithErrors, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestReportCanceledCallerInitiatedCompletesImmediately(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.store.Jobs["job-1"].Status = models.JobCanceled
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)

	err := f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemCanceled})
	require.NoError(t, err)

	got, err := f.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemCanceled, got.Status)
}

func TestReportCanceledWorkerReportedRetriesOnceThenFails(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.createStep(t, "job-1", 1, 1.0, false)
	item := f.insertItem(t, "job-1", 1)

	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemCanceled}))
	got, err := f.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemReady, got.Status, "first worker-reported cancel should retry")

	require.NoError(t, f.engine.ReportOutcome(context.Background(), Report{ItemID: item.ID, Outcome: models.ItemCanceled}))

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status, "second worker-reported cancel should fail permanently")
}

func TestPauseResumeCancelSkipPreviewGuards(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)

	require.NoError(t, f.engine.Pause(context.Background(), "job-1"))
	job, _ := f.store.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobPaused, job.Status)

	err := f.engine.Pause(context.Background(), "job-1")
	assert.Error(t, err, "pause from paused should be rejected")

	require.NoError(t, f.engine.Resume(context.Background(), "job-1"))
	job, _ = f.store.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobRunning, job.Status)

	require.NoError(t, f.engine.Cancel(context.Background(), "job-1"))
	job, _ = f.store.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobCanceled, job.Status)

	require.NoError(t, f.engine.Cancel(context.Background(), "job-1"), "cancel is idempotent")
}

func TestSkipPreviewOnlyValidFromPreviewing(t *testing.T) {
	f := newFixture()
	f.createJob(t, "job-1", false)
	f.store.Jobs["job-1"].Status = models.JobPreviewing

	require.NoError(t, f.engine.SkipPreview(context.Background(), "job-1"))
	job, _ := f.store.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobRunning, job.Status)
	assert.True(t, job.PreviewSkipped)

	err := f.engine.SkipPreview(context.Background(), "job-1")
	assert.Error(t, err)
}

func TestAwaitSynchronousDelegatesToBroker(t *testing.T) {
	f := newFixture()
	f.broker.Publish("job-1", models.JobSuccessful)

	status, err := f.engine.AwaitSynchronous(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobSuccessful, status)
}
