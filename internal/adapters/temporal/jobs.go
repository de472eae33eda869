// Package temporal runs detections as Temporal workflows.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/workflows"
)

// Job states reported by Status.
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusTerminated = "terminated"
	StatusTimedOut   = "timed_out"
	StatusUnknown    = "unknown"
)

// workflowTimeout caps a job including all of its retries.
const workflowTimeout = time.Hour

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
}

// Jobs implements ports.JobRunner on Temporal. The job ID is the workflow
// ID and doubles as the run ID of the detection.
type Jobs struct {
	client    client.Client
	taskQueue string
}

// NewJobs creates a new Jobs runner.
func NewJobs(c client.Client, taskQueue string) *Jobs {
	return &Jobs{client: c, taskQueue: taskQueue}
}

// Start queues a detection and returns its job ID.
func (j *Jobs) Start(ctx context.Context, in domain.DetectionInput) (string, error) {
	id := uuid.NewString()
	_, err := j.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                j.taskQueue,
		WorkflowExecutionTimeout: workflowTimeout,
	}, workflows.DetectionWorkflow, workflows.JobInput{RunID: id, Input: in})
	if err != nil {
		return "", fmt.Errorf("start detection workflow: %w", err)
	}
	return id, nil
}

// Status reports the state of a job, with its result once it completed.
func (j *Jobs) Status(ctx context.Context, id string) (*domain.JobStatus, error) {
	desc, err := j.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("describe workflow %s: %w", id, err)
	}

	st := &domain.JobStatus{ID: id, Status: statusName(desc.GetWorkflowExecutionInfo().GetStatus())}

	switch st.Status {
	case StatusCompleted:
		var res domain.AggregatedResult
		if err := j.client.GetWorkflow(ctx, id, "").Get(ctx, &res); err != nil {
			return nil, fmt.Errorf("get workflow result %s: %w", id, err)
		}
		st.Result = &res
	case StatusFailed, StatusTimedOut:
		if err := j.client.GetWorkflow(ctx, id, "").Get(ctx, nil); err != nil {
			st.Error = rootCause(err).Error()
		}
	}
	return st, nil
}

func statusName(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return StatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return StatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return StatusCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return StatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return StatusTimedOut
	}
	return StatusUnknown
}

// rootCause strips the workflow and activity wrappers off a failure.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
