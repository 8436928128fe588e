// Package workspace owns the scratch directory tree of a run: it is created
// up front and removed once the run reaches a terminal state, leaving only the
// final artifacts in the output folder.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourorg/textblast/internal/errs"
)

// Scratch subdirectories, relative to the output folder.
const (
	EncodedDir  = "encoded"
	MetadataDir = "metadata"
	DatabaseDir = "database"
	ResultsDir  = "results"
	KeyIndexDir = "keyindex"
)

// Final artifacts kept after cleanup.
const (
	MetadataFile = "metadata.json"
	ManifestFile = "manifest.json"
	CatalogFile  = "catalog.db"
)

var scratchDirs = []string{EncodedDir, MetadataDir, DatabaseDir, ResultsDir, KeyIndexDir}

// IsScratch reports whether name, relative to the output folder, is one of
// the scratch directories.
func IsScratch(name string) bool {
	for _, d := range scratchDirs {
		if name == d {
			return true
		}
	}
	return false
}

// Workspace is a handle on one output folder's scratch tree.
type Workspace struct {
	root string
}

// Create makes the output folder if needed and every scratch directory in it.
// If any scratch directory already exists nothing is created and
// ErrWorkspaceExists is returned.
func Create(outputFolder string) (*Workspace, error) {
	root, err := filepath.Abs(outputFolder)
	if err != nil {
		return nil, err
	}
	for _, d := range scratchDirs {
		p := filepath.Join(root, d)
		if _, err := os.Lstat(p); err == nil {
			return nil, fmt.Errorf("%w: %s", errs.ErrWorkspaceExists, p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	ws := &Workspace{root: root}
	for _, d := range scratchDirs {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			_ = ws.Cleanup()
			if errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("%w: %s", errs.ErrWorkspaceExists, filepath.Join(root, d))
			}
			return nil, err
		}
	}
	return ws, nil
}

// Open returns a handle on a workspace created elsewhere, e.g. by another
// worker sharing the same filesystem. It does not check the tree exists.
func Open(outputFolder string) (*Workspace, error) {
	root, err := filepath.Abs(outputFolder)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string           { return w.root }
func (w *Workspace) Dir(name string) string { return filepath.Join(w.root, name) }

// EncodedPath is the private sequence artifact of one batch.
func (w *Workspace) EncodedPath(batch string) string {
	return filepath.Join(w.root, EncodedDir, batch+".msgpack.gz")
}

// MetadataPath is the private metadata artifact of one batch.
func (w *Workspace) MetadataPath(batch string) string {
	return filepath.Join(w.root, MetadataDir, batch+".json")
}

func (w *Workspace) ArchivePath() string  { return filepath.Join(w.root, DatabaseDir, "db.fsa") }
func (w *Workspace) IndexPrefix() string  { return filepath.Join(w.root, DatabaseDir, "database") }
func (w *Workspace) HitsPath() string     { return filepath.Join(w.root, ResultsDir, "result.tsv") }
func (w *Workspace) MetadataFile() string { return filepath.Join(w.root, MetadataFile) }
func (w *Workspace) ManifestFile() string { return filepath.Join(w.root, ManifestFile) }
func (w *Workspace) CatalogFile() string  { return filepath.Join(w.root, CatalogFile) }

// Cleanup removes every scratch directory. It is safe to call repeatedly and
// on a partially created tree.
func (w *Workspace) Cleanup() error {
	var all []error
	for _, d := range scratchDirs {
		p := filepath.Clean(filepath.Join(w.root, d))
		// Never delete the output folder itself or go up the tree.
		if p == w.root || filepath.Dir(p) != w.root {
			all = append(all, fmt.Errorf("refusing to remove %s", p))
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// With creates the workspace, runs fn, and removes the scratch tree on every
// exit path unless keep is set. A cleanup failure is joined into the result.
func With(ctx context.Context, outputFolder string, keep bool, fn func(context.Context, *Workspace) error) (err error) {
	ws, err := Create(outputFolder)
	if err != nil {
		return err
	}
	defer func() {
		if keep {
			return
		}
		if cerr := ws.Cleanup(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup: %w", cerr))
		}
	}()
	return fn(ctx, ws)
}
