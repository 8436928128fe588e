package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/textblast/internal/activities"
	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/types"
)

// TextBlastWorkflow runs the pipeline with every stage as an activity. All
// activities must see the same output folder, so workers share a filesystem.
func TextBlastWorkflow(ctx workflow.Context, p types.RunParams) (res types.RunResult, err error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		// stages are deterministic given their input; a retry would fail the same way
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.RunID == "" {
		p.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	res = types.RunResult{RunID: p.RunID, Params: p, StartedAt: workflow.Now(ctx).UTC(), ToolsRun: []string{}}
	log := workflow.GetLogger(ctx)

	var src types.SourceResult
	if err := workflow.ExecuteActivity(ctx, activities.NameResolveSource, p).Get(ctx, &src); err != nil {
		stamp(ctx, &res, err)
		return res, err
	}
	if err := workflow.ExecuteActivity(ctx, activities.NamePrepareWorkspace, p).Get(ctx, nil); err != nil {
		stamp(ctx, &res, err)
		return res, err
	}

	// Cleanup and the manifest must run even when ctx has been cancelled.
	defer func() {
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		if !p.KeepScratch {
			cp := types.CleanupParams{OutputFolder: p.OutputFolder}
			if cerr := workflow.ExecuteActivity(dctx, activities.NameCleanupWorkspace, cp).Get(dctx, nil); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		stamp(dctx, &res, err)
		if merr := workflow.ExecuteActivity(dctx, activities.NameWriteManifest, res).Get(dctx, nil); merr != nil {
			log.Error("manifest not written", "error", merr)
			err = errors.Join(err, merr)
		}
	}()

	stats, err := encodeAll(ctx, src, p)
	if err != nil {
		return res, err
	}
	res.Batches = stats

	ap := types.AssembleParams{OutputFolder: p.OutputFolder, Batches: src.Batches, Catalog: p.Catalog}
	var ms types.MergeStats
	if err := workflow.ExecuteActivity(ctx, activities.NameMergeMetadata, ap).Get(ctx, &ms); err != nil {
		return res, err
	}
	res.Records = ms.Records
	var as types.ArchiveStats
	if err := workflow.ExecuteActivity(ctx, activities.NameAssembleArchive, ap).Get(ctx, &as); err != nil {
		return res, err
	}
	res.Entries = as.Entries

	if res.Entries == 0 {
		log.Warn("archive is empty, skipping index, search and cluster")
		return res, nil
	}
	sp := types.SearchParams{
		OutputFolder: p.OutputFolder,
		DataLocation: p.DataLocation,
		Threads:      p.Workers,
		MinLength:    p.MinLength,
		Subgraph:     p.Subgraph,
		TSV:          p.TSV,
		Full:         p.Full,
	}
	for _, step := range []struct{ activity, tool string }{
		{activities.NameBuildIndex, blast.ToolMakeBlastDB},
		{activities.NameSearch, blast.ToolBlastP},
		{activities.NameCluster, blast.ToolCluster},
	} {
		res.ToolsRun = append(res.ToolsRun, step.tool)
		if err := workflow.ExecuteActivity(ctx, step.activity, sp).Get(ctx, nil); err != nil {
			return res, err
		}
	}
	return res, nil
}

// encodeAll keeps at most p.Workers encode activities in flight. On the
// first failure the rest are cancelled, drained, and that failure returned.
func encodeAll(ctx workflow.Context, src types.SourceResult, p types.RunParams) ([]types.BatchStats, error) {
	stats := make([]types.BatchStats, len(src.Batches))
	ectx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	sel := workflow.NewSelector(ctx)

	var firstErr error
	pending, next := 0, 0
	launch := func() {
		i := next
		next++
		pending++
		ep := types.EncodeParams{Base: src.Base, Batch: src.Batches[i], OutputFolder: p.OutputFolder}
		f := workflow.ExecuteActivity(ectx, activities.NameEncodeBatch, ep)
		sel.AddFuture(f, func(f workflow.Future) {
			pending--
			if err := f.Get(ctx, &stats[i]); err != nil && firstErr == nil {
				firstErr = err
				cancel()
			}
		})
	}
	for next < len(src.Batches) && pending < p.Workers {
		launch()
	}
	for pending > 0 {
		sel.Select(ctx)
		if firstErr == nil && next < len(src.Batches) {
			launch()
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return stats, nil
}

func stamp(ctx workflow.Context, res *types.RunResult, err error) {
	res.FinishedAt = workflow.Now(ctx).UTC()
	res.Elapsed = res.FinishedAt.Sub(res.StartedAt)
	if err != nil {
		res.Status = types.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = errorKind(err)
		return
	}
	res.Status = types.StatusSucceeded
}

// errorKind recovers the kind the failing activity reported.
func errorKind(err error) string {
	var ae *temporal.ApplicationError
	if errors.As(err, &ae) && ae.Type() != "" {
		return ae.Type()
	}
	if temporal.IsCanceledError(err) {
		return string(errs.CodeCanceled)
	}
	return string(errs.Classify(err))
}
