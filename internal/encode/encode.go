package encode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/source"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

// Encoder turns a record's text into a sequence. Implementations must be
// deterministic and safe for concurrent use.
type Encoder interface {
	Encode(text string) (string, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(string) (string, error)

func (f EncoderFunc) Encode(text string) (string, error) { return f(text) }

const progressEvery = 1000

// Batch reads one input batch, encodes every record and writes the batch's
// private sequence and metadata artifacts into ws. Either both artifacts
// are written or neither is.
func Batch(ctx context.Context, enc Encoder, base, batch string, ws *workspace.Workspace, progress func(records int)) (types.BatchStats, error) {
	if !source.ValidBatchName(batch) {
		return types.BatchStats{}, fmt.Errorf("%w: batch name %q", errs.ErrInvalidLocation, batch)
	}
	records, size, err := readBatch(ctx, iopkg.Join(base, batch))
	if err != nil {
		return types.BatchStats{}, err
	}

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := types.EncodedBatch{Batch: batch, Records: make([]types.EncodedRecord, 0, len(keys))}
	meta := make(map[string]types.Metadata, len(keys))
	for i, k := range keys {
		if i%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return types.BatchStats{}, err
			}
			if progress != nil && i > 0 {
				progress(i)
			}
		}
		rec := records[k]
		seq, err := enc.Encode(*rec.Text)
		if err != nil {
			return types.BatchStats{}, fmt.Errorf("%w: record %q: %v", errs.ErrEncoding, k, err)
		}
		out.Records = append(out.Records, types.EncodedRecord{Key: k, Sequence: seq})
		meta[k] = types.Metadata{Year: rec.Year, Title: *rec.Title, Batch: batch}
	}

	if err := WriteEncoded(ws.EncodedPath(batch), out); err != nil {
		return types.BatchStats{}, fmt.Errorf("write encoded: %w", err)
	}
	if err := WriteMetadata(ws.MetadataPath(batch), meta); err != nil {
		_ = os.Remove(ws.EncodedPath(batch))
		return types.BatchStats{}, fmt.Errorf("write metadata: %w", err)
	}
	if progress != nil {
		progress(len(keys))
	}
	return types.BatchStats{Batch: batch, Records: len(keys), SourceBytes: size}, nil
}

// readBatch decodes one input as key -> {text, year, title}.
func readBatch(ctx context.Context, uri string) (map[string]types.InputRecord, int64, error) {
	rc, size, err := iopkg.OpenDecoded(ctx, uri)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(rc)
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrMalformedInput, err)
	}
	if raw == nil {
		return nil, 0, fmt.Errorf("%w: document is not an object", errs.ErrMalformedInput)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("%w: trailing data after document", errs.ErrMalformedInput)
	}

	out := make(map[string]types.InputRecord, len(raw))
	for k, v := range raw {
		if k == "" || strings.ContainsAny(k, "\r\n") {
			return nil, 0, fmt.Errorf("%w: record key %q cannot be used in an archive header", errs.ErrMalformedInput, k)
		}
		var rec types.InputRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, 0, fmt.Errorf("%w: record %q: %v", errs.ErrMalformedInput, k, err)
		}
		switch {
		case rec.Text == nil:
			return nil, 0, fmt.Errorf("%w: record %q: missing text", errs.ErrMalformedInput, k)
		case rec.Title == nil:
			return nil, 0, fmt.Errorf("%w: record %q: missing title", errs.ErrMalformedInput, k)
		case len(rec.Year) == 0 || bytes.Equal(rec.Year, []byte("null")):
			return nil, 0, fmt.Errorf("%w: record %q: missing year", errs.ErrMalformedInput, k)
		}
		out[k] = rec
	}
	return out, size, nil
}
