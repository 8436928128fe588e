package activities

import (
	"context"

	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/pipeline"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

func (a *Activities) invoker() blast.Invoker {
	return blast.Invoker{Runner: a.cfg.Runner, Tools: a.cfg.Pipeline.Tools, Params: a.cfg.Pipeline.Search}
}

func (a *Activities) BuildIndex(ctx context.Context, p types.SearchParams) error {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return fail(err)
	}
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, blast.ToolMakeBlastDB)
	defer stop()
	return fail(pipeline.BuildIndex(ctx, a.invoker(), ws))
}

func (a *Activities) Search(ctx context.Context, p types.SearchParams) error {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return fail(err)
	}
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, blast.ToolBlastP)
	defer stop()
	return fail(pipeline.Search(ctx, a.invoker(), ws, a.cfg.Pipeline.Search.ThreadsFor(p.Threads)))
}

func (a *Activities) Cluster(ctx context.Context, p types.SearchParams) error {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return fail(err)
	}
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, blast.ToolCluster)
	defer stop()
	return fail(pipeline.Cluster(ctx, a.invoker(), ws, blast.ClusterRequest{
		MinLength:    p.MinLength,
		DataLocation: p.DataLocation,
		Subgraph:     p.Subgraph,
		TSV:          p.TSV,
		Full:         p.Full,
	}))
}
