package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/errs"
)

// Registered activity names, shared with the workflow.
const (
	NameResolveSource    = "Activities.ResolveSource"
	NamePrepareWorkspace = "Activities.PrepareWorkspace"
	NameEncodeBatch      = "Activities.EncodeBatch"
	NameMergeMetadata    = "Activities.MergeMetadata"
	NameAssembleArchive  = "Activities.AssembleArchive"
	NameBuildIndex       = "Activities.BuildIndex"
	NameSearch           = "Activities.Search"
	NameCluster          = "Activities.Cluster"
	NameCleanupWorkspace = "Activities.CleanupWorkspace"
	NameWriteManifest    = "Activities.WriteManifest"
)

type Config struct {
	Pipeline config.Config
	Encoder  encode.Encoder
	Runner   blast.Runner
	Logger   *zap.Logger
	// HeartbeatEvery paces heartbeats while an external tool runs.
	HeartbeatEvery time.Duration
}

type Activities struct {
	cfg Config
}

func New(cfg Config) *Activities {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Pipeline.IsZero() {
		cfg.Pipeline = config.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = blast.ExecRunner{Logger: cfg.Logger}
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 30 * time.Second
	}
	return &Activities{cfg: cfg}
}

// Registry is satisfied by worker.Worker and testsuite.TestWorkflowEnvironment.
type Registry interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds every activity under the name the workflow calls it by.
func (a *Activities) Register(r Registry) {
	for name, fn := range map[string]interface{}{
		NameResolveSource:    a.ResolveSource,
		NamePrepareWorkspace: a.PrepareWorkspace,
		NameEncodeBatch:      a.EncodeBatch,
		NameMergeMetadata:    a.MergeMetadata,
		NameAssembleArchive:  a.AssembleArchive,
		NameBuildIndex:       a.BuildIndex,
		NameSearch:           a.Search,
		NameCluster:          a.Cluster,
		NameCleanupWorkspace: a.CleanupWorkspace,
		NameWriteManifest:    a.WriteManifest,
	} {
		r.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
}

// fail converts a stage error into a non-retryable application error whose
// type is the error kind, so the workflow can report it without string
// matching. Cancellation is passed through untouched.
func fail(err error) error {
	if err == nil {
		return nil
	}
	code := errs.Classify(err)
	if code == errs.CodeCanceled {
		return err
	}
	var se *errs.StageError
	var details []interface{}
	if errors.As(err, &se) {
		details = append(details, se.Stage, se.Batch)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(code), err, details...)
}

// heartbeat records a heartbeat every interval until the returned stop is
// called. Used around blocking calls that have no progress of their own.
func heartbeat(ctx context.Context, every time.Duration, details interface{}) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, details)
			}
		}
	}()
	return func() { close(done) }
}
