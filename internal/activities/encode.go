package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/alphabet"
	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/pipeline"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

func (a *Activities) ResolveSource(ctx context.Context, p types.RunParams) (types.SourceResult, error) {
	src, err := pipeline.ResolveSource(ctx, p.DataLocation)
	if err != nil {
		return types.SourceResult{}, fail(err)
	}
	a.cfg.Logger.Info("source resolved", zap.String("run_id", p.RunID), zap.String("base", src.Base), zap.Int("batches", len(src.Batches)))
	return src, nil
}

func (a *Activities) encoder() encode.Encoder {
	if a.cfg.Encoder != nil {
		return a.cfg.Encoder
	}
	return alphabet.Protein{}
}

// EncodeBatch encodes one batch into the shared workspace. Progress is
// reported as the number of records encoded so far.
func (a *Activities) EncodeBatch(ctx context.Context, p types.EncodeParams) (types.BatchStats, error) {
	ws, err := workspace.Open(p.OutputFolder)
	if err != nil {
		return types.BatchStats{}, fail(err)
	}
	// the ticker covers decoding, which reports no progress of its own
	stop := heartbeat(ctx, a.cfg.HeartbeatEvery, p.Batch)
	defer stop()
	st, err := pipeline.EncodeBatch(ctx, a.encoder(), p.Base, p.Batch, ws, func(n int) {
		activity.RecordHeartbeat(ctx, n)
	})
	if err != nil {
		a.cfg.Logger.Error("encode failed", zap.String("batch", p.Batch), zap.Error(err))
		return types.BatchStats{}, fail(err)
	}
	a.cfg.Logger.Info("batch encoded", zap.String("batch", p.Batch), zap.Int("records", st.Records))
	return st, nil
}
