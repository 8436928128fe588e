// Package pipeline runs a whole text-to-search job in one process: resolve
// the source, encode batches in parallel, merge metadata, assemble the
// archive, then index, search and cluster with the external tools. The same
// stage functions back the Temporal activities.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/textblast/internal/alphabet"
	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

// Deps are the collaborators of a run. Zero values get the production
// implementations; a zero Config means config.Default().
type Deps struct {
	Encoder encode.Encoder
	Runner  blast.Runner
	Config  config.Config
	Logger  *zap.Logger
}

// Run executes one job. The returned result is filled in on failure too;
// once the workspace has been created it is also written to manifest.json.
func Run(ctx context.Context, p types.RunParams, d Deps) (types.RunResult, error) {
	log := logger(d.Logger)
	if d.Encoder == nil {
		d.Encoder = alphabet.Protein{}
	}
	if d.Runner == nil {
		d.Runner = blast.ExecRunner{Logger: log}
	}
	if d.Config.IsZero() {
		d.Config = config.Default()
	}
	if p.RunID == "" {
		p.RunID = NewRunID()
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	log = log.With(zap.String("run_id", p.RunID))
	res := types.RunResult{RunID: p.RunID, Params: p, StartedAt: time.Now().UTC(), ToolsRun: []string{}}

	if err := d.Config.Validate(); err != nil {
		err = errs.Stage(StageConfig, "", err)
		Finish(&res, err)
		log.Error("run failed", zap.String("stage", StageConfig), zap.Error(err))
		return res, err
	}

	src, err := ResolveSource(ctx, p.DataLocation)
	if err != nil {
		Finish(&res, err)
		log.Error("run failed", zap.String("stage", StageSource), zap.Error(err))
		return res, err
	}
	log.Info("source resolved", zap.String("base", src.Base), zap.Int("batches", len(src.Batches)))

	created := false
	err = workspace.With(ctx, p.OutputFolder, p.KeepScratch, func(ctx context.Context, ws *workspace.Workspace) error {
		created = true
		return run(ctx, ws, src, p, d, log, &res)
	})
	if !created {
		err = errs.Stage(StageWorkspace, "", err)
	}
	Finish(&res, err)
	if created {
		if merr := WriteManifest(filepath.Join(p.OutputFolder, workspace.ManifestFile), res); merr != nil {
			err = errors.Join(err, merr)
			Finish(&res, err)
		}
	}
	if err != nil {
		log.Error("run failed", zap.String("kind", res.ErrorKind), zap.Duration("elapsed", res.Elapsed), zap.Error(err))
		return res, err
	}
	log.Info("run finished", zap.Int("records", res.Records), zap.Int("entries", res.Entries),
		zap.Strings("tools", res.ToolsRun), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func run(ctx context.Context, ws *workspace.Workspace, src types.SourceResult, p types.RunParams, d Deps, log *zap.Logger, res *types.RunResult) error {
	stats, err := EncodeAll(ctx, d.Encoder, src, ws, p.Workers, log)
	if err != nil {
		return err
	}
	res.Batches = stats

	if res.Records, err = MergeMetadata(ctx, ws, src.Batches, d.Config.Merge.Index, p.Catalog); err != nil {
		return err
	}
	log.Info("metadata merged", zap.String("stage", StageMerge), zap.Int("records", res.Records))
	if res.Entries, err = AssembleArchive(ctx, ws, src.Batches, p.Catalog); err != nil {
		return err
	}
	log.Info("archive assembled", zap.String("stage", StageArchive), zap.Int("entries", res.Entries))

	if res.Entries == 0 {
		log.Warn("archive is empty, skipping index, search and cluster")
		return nil
	}

	inv := blast.Invoker{Runner: d.Runner, Tools: d.Config.Tools, Params: d.Config.Search}
	res.ToolsRun = append(res.ToolsRun, blast.ToolMakeBlastDB)
	if err := BuildIndex(ctx, inv, ws); err != nil {
		return err
	}
	res.ToolsRun = append(res.ToolsRun, blast.ToolBlastP)
	if err := Search(ctx, inv, ws, d.Config.Search.ThreadsFor(p.Workers)); err != nil {
		return err
	}
	res.ToolsRun = append(res.ToolsRun, blast.ToolCluster)
	return Cluster(ctx, inv, ws, blast.ClusterRequest{
		MinLength:    p.MinLength,
		DataLocation: p.DataLocation,
		Subgraph:     p.Subgraph,
		TSV:          p.TSV,
		Full:         p.Full,
	})
}

// EncodeAll encodes every batch with at most workers running at once. Each
// result lands in the slot of its batch, so the returned stats follow
// src.Batches. The first failure cancels the rest; batches not yet started
// are skipped.
func EncodeAll(ctx context.Context, enc encode.Encoder, src types.SourceResult, ws *workspace.Workspace, workers int, log *zap.Logger) ([]types.BatchStats, error) {
	log = logger(log)
	if workers <= 0 {
		workers = 1
	}
	stats := make([]types.BatchStats, len(src.Batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, batch := range src.Batches {
		if gctx.Err() != nil {
			break
		}
		i, batch := i, batch
		g.Go(func() error {
			start := time.Now()
			st, err := EncodeBatch(gctx, enc, src.Base, batch, ws, nil)
			if err != nil {
				return err
			}
			stats[i] = st
			log.Debug("batch encoded", zap.String("stage", StageEncode), zap.String("batch", batch),
				zap.Int("records", st.Records), zap.Duration("duration", time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// cancelled before any worker failed: some batches never ran
	if err := ctx.Err(); err != nil {
		return nil, errs.Stage(StageEncode, "", err)
	}
	return stats, nil
}
