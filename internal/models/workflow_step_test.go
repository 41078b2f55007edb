package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStepValidate(t *testing.T) {
	base := func() *WorkflowStep {
		return &WorkflowStep{JobID: "job-1", StepIndex: 1, ServiceImage: "svc:v1", WorkItemCount: 2, CompletedCount: 1}
	}
	assert.NoError(t, base().Validate())

	overCompleted := base()
	overCompleted.CompletedCount = 3
	assert.Error(t, overCompleted.Validate())

	missingService := base()
	missingService.ServiceImage = ""
	assert.Error(t, missingService.Validate())
}

func TestWorkflowStepFractionComplete(t *testing.T) {
	empty := &WorkflowStep{WorkItemCount: 0}
	assert.Equal(t, 0.0, empty.FractionComplete())

	half := &WorkflowStep{WorkItemCount: 4, CompletedCount: 2}
	assert.Equal(t, 0.5, half.FractionComplete())

	assert.False(t, half.IsComplete())

	done := &WorkflowStep{WorkItemCount: 4, CompletedCount: 4}
	assert.True(t, done.IsComplete())
	assert.Equal(t, 1.0, done.FractionComplete())
}
