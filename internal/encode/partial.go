package encode

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/types"
)

// WriteEncoded stores b as gzip'd msgpack at path.
func WriteEncoded(path string, b types.EncodedBatch) error {
	return iopkg.WriteFileAtomic(path, func(w io.Writer) error {
		gw := gzip.NewWriter(w)
		if err := msgpack.NewEncoder(gw).Encode(&b); err != nil {
			_ = gw.Close()
			return err
		}
		return gw.Close()
	})
}

// ReadEncoded loads a batch written by WriteEncoded.
func ReadEncoded(path string) (types.EncodedBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.EncodedBatch{}, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return types.EncodedBatch{}, fmt.Errorf("%s: %w", path, err)
	}
	defer gr.Close()
	var b types.EncodedBatch
	if err := msgpack.NewDecoder(gr).Decode(&b); err != nil {
		return types.EncodedBatch{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// WriteMetadata stores one batch's metadata as a JSON object.
func WriteMetadata(path string, m map[string]types.Metadata) error {
	return iopkg.WriteFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(m)
	})
}

// ReadMetadata loads a file written by WriteMetadata.
func ReadMetadata(path string) (map[string]types.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m map[string]types.Metadata
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
