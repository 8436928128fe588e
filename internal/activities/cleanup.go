package activities

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/pipeline"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

var errNoOutputFolder = errors.New("invalid output folder")

// PrepareWorkspace creates the scratch tree; it fails if another run's tree is present.
func (a *Activities) PrepareWorkspace(ctx context.Context, p types.RunParams) error {
	if p.OutputFolder == "" {
		return fail(errs.Stage(pipeline.StageWorkspace, "", errNoOutputFolder))
	}
	if _, err := workspace.Create(p.OutputFolder); err != nil {
		return fail(errs.Stage(pipeline.StageWorkspace, "", err))
	}
	return nil
}

// CleanupWorkspace removes the run's scratch directories under the output folder.
// It is safe to call even if they don't exist.
func (a *Activities) CleanupWorkspace(ctx context.Context, p types.CleanupParams) error {
	out := filepath.Clean(p.OutputFolder)
	if out == "." || out == "" || out == "/" || out == ".." {
		// never resolve a workspace relative to the worker's own directory
		return fail(errs.Stage(pipeline.StageCleanup, "", errNoOutputFolder))
	}
	ws, err := workspace.Open(out)
	if err != nil {
		return fail(err)
	}
	if err := ws.Cleanup(); err != nil {
		a.cfg.Logger.Error("cleanup failed", zap.String("output", out), zap.Error(err))
		return fail(errs.Stage(pipeline.StageCleanup, "", err))
	}
	return nil
}

// WriteManifest stores the final run result next to metadata.json.
func (a *Activities) WriteManifest(ctx context.Context, res types.RunResult) error {
	return fail(pipeline.WriteManifest(filepath.Join(res.Params.OutputFolder, workspace.ManifestFile), res))
}
