package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/types"
)

// Resolve turns a data location into a base and a sorted list of batch names.
//
// A local directory yields every regular file in it; sub-directories are
// skipped. A local file yields itself with its parent as base. For s3:// the
// location is either a single object or a prefix whose direct children are
// the batches. Anything else is ErrInvalidLocation.
func Resolve(ctx context.Context, location string) (types.SourceResult, error) {
	if location == "" {
		return types.SourceResult{}, fmt.Errorf("%w: empty location", errs.ErrInvalidLocation)
	}
	if iopkg.IsS3(location) {
		return resolveS3(ctx, location)
	}
	p := strings.TrimPrefix(location, "file://")
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.SourceResult{}, fmt.Errorf("%w: %s does not exist", errs.ErrInvalidLocation, location)
		}
		return types.SourceResult{}, err
	}
	switch {
	case st.IsDir():
		entries, err := os.ReadDir(p)
		if err != nil {
			return types.SourceResult{}, err
		}
		batches := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if !e.Type().IsRegular() {
				// follow symlinks to regular files
				fi, err := os.Stat(filepath.Join(p, e.Name()))
				if err != nil || !fi.Mode().IsRegular() {
					continue
				}
			}
			batches = append(batches, e.Name())
		}
		sort.Strings(batches)
		return types.SourceResult{Base: p, Batches: batches}, nil
	case st.Mode().IsRegular():
		return types.SourceResult{Base: filepath.Dir(p), Batches: []string{filepath.Base(p)}}, nil
	default:
		return types.SourceResult{}, fmt.Errorf("%w: %s is neither a file nor a directory", errs.ErrInvalidLocation, location)
	}
}

func resolveS3(ctx context.Context, location string) (types.SourceResult, error) {
	if !strings.HasSuffix(location, "/") {
		ok, err := iopkg.Exists(ctx, location)
		if err != nil {
			return types.SourceResult{}, err
		}
		if ok {
			parent := iopkg.Parent(location)
			return types.SourceResult{Base: parent, Batches: []string{strings.TrimPrefix(location, parent+"/")}}, nil
		}
	}
	batches, err := iopkg.List(ctx, location)
	if err != nil {
		return types.SourceResult{}, err
	}
	if len(batches) == 0 {
		return types.SourceResult{}, fmt.Errorf("%w: no objects under %s", errs.ErrInvalidLocation, location)
	}
	return types.SourceResult{Base: strings.TrimSuffix(location, "/"), Batches: batches}, nil
}

// ValidBatchName reports whether name can be used to derive private scratch
// file names.
func ValidBatchName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
