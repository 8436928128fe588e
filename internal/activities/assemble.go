package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/pipeline"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

func (a *Activities) MergeMetadata(ctx context.Context, p types.AssembleParams) (types.MergeStats, error) {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return types.MergeStats{}, fail(err)
	}
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, "merge")
	defer stop()
	n, err := pipeline.MergeMetadata(ctx, ws, p.Batches, a.cfg.Pipeline.Merge.Index, p.Catalog)
	if err != nil {
		a.cfg.Logger.Error("merge failed", zap.Error(err))
		return types.MergeStats{}, fail(err)
	}
	a.cfg.Logger.Info("metadata merged", zap.Int("records", n))
	return types.MergeStats{Records: n}, nil
}

func (a *Activities) AssembleArchive(ctx context.Context, p types.AssembleParams) (types.ArchiveStats, error) {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return types.ArchiveStats{}, fail(err)
	}
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, "archive")
	defer stop()
	n, err := pipeline.AssembleArchive(ctx, ws, p.Batches, p.Catalog)
	if err != nil {
		a.cfg.Logger.Error("archive failed", zap.Error(err))
		return types.ArchiveStats{}, fail(err)
	}
	a.cfg.Logger.Info("archive assembled", zap.Int("entries", n))
	return types.ArchiveStats{Entries: n}, nil
}
