// Package merge combines the per-batch metadata artifacts into the single
// global metadata file, rejecting record keys claimed by more than one batch.
package merge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

// Sink receives every merged record in output order.
type Sink func(key string, m types.Metadata) error

// Metadata streams the union of all batch metadata, in batch order and key
// order within a batch, into ws.MetadataFile(). The file is only put in
// place if every batch merged without a collision.
func Metadata(ctx context.Context, ws *workspace.Workspace, batches []string, idx KeyIndex, sink Sink) (int, error) {
	var n int
	err := iopkg.WriteFileAtomic(ws.MetadataFile(), func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := bw.WriteByte('{'); err != nil {
			return err
		}
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			part, err := encode.ReadMetadata(ws.MetadataPath(batch))
			if err != nil {
				return fmt.Errorf("batch %s: %w", batch, err)
			}
			keys := make([]string, 0, len(part))
			for k := range part {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				prev, dup, err := idx.Claim(k, batch)
				if err != nil {
					return fmt.Errorf("key index: %w", err)
				}
				if dup {
					return &errs.DuplicateKeyError{Key: k, FirstBatch: prev, SecondBatch: batch}
				}
				if err := writeEntry(bw, n > 0, k, part[k]); err != nil {
					return err
				}
				if sink != nil {
					if err := sink(k, part[k]); err != nil {
						return err
					}
				}
				n++
			}
		}
		if err := bw.WriteByte('}'); err != nil {
			return err
		}
		return bw.Flush()
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func writeEntry(w *bufio.Writer, comma bool, key string, m types.Metadata) error {
	kb, err := json.Marshal(key)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if comma {
		if err := w.WriteByte(','); err != nil {
			return err
		}
	}
	if _, err := w.Write(kb); err != nil {
		return err
	}
	if err := w.WriteByte(':'); err != nil {
		return err
	}
	_, err = w.Write(vb)
	return err
}
