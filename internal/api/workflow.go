package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/yourorg/textblast/internal/types"
)

// RunStatus is what the API reports about one run.
type RunStatus struct {
	WorkflowID string           `json:"workflow_id"`
	Status     string           `json:"status"`
	StartTime  *time.Time       `json:"start_time,omitempty"`
	Result     *types.RunResult `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
}

const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// RunStarter starts runs and reports on them.
type RunStarter interface {
	Start(ctx context.Context, workflowID string, p types.RunParams) (runID string, err error)
	Status(ctx context.Context, workflowID string) (RunStatus, error)
}

var ErrRunNotFound = errors.New("run not found")

// TemporalStarter runs TextBlastWorkflow on a Temporal cluster.
type TemporalStarter struct {
	Client    client.Client
	TaskQueue string
}

func (s TemporalStarter) Start(ctx context.Context, workflowID string, p types.RunParams) (string, error) {
	run, err := s.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.TaskQueue,
	}, "TextBlastWorkflow", p)
	if err != nil {
		return "", err
	}
	return run.GetRunID(), nil
}

func (s TemporalStarter) Status(ctx context.Context, workflowID string) (RunStatus, error) {
	describe, err := s.Client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return RunStatus{}, ErrRunNotFound
		}
		return RunStatus{}, err
	}
	info := describe.WorkflowExecutionInfo
	st := RunStatus{WorkflowID: workflowID, Status: info.Status.String()}
	if info.StartTime != nil {
		t := info.StartTime.AsTime()
		st.StartTime = &t
	}
	switch info.Status {
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var res types.RunResult
		if err := s.Client.GetWorkflow(ctx, workflowID, "").Get(ctx, &res); err != nil {
			return RunStatus{}, err
		}
		st.Status = StatusCompleted
		st.Result = &res
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED:
		err := s.Client.GetWorkflow(ctx, workflowID, "").Get(ctx, nil)
		st.Status = StatusFailed
		if err != nil {
			st.Error = err.Error()
			var ae *temporal.ApplicationError
			if errors.As(err, &ae) {
				st.ErrorKind = ae.Type()
			}
		}
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
		st.Status = StatusRunning
	}
	return st, nil
}

// resultJSON is what the registry stores for a finished run.
func resultJSON(st RunStatus) []byte {
	if st.Result == nil {
		return nil
	}
	b, err := json.Marshal(st.Result)
	if err != nil {
		return nil
	}
	return b
}
