// Package archive assembles the encoded batches into one FASTA file with
// dense, 1-based numeric ids. Each header also carries the record key, which
// is the durable join key back to the metadata.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/workspace"
)

// Entry is one archive record.
type Entry struct {
	ID       int
	Key      string
	Sequence string
}

// Sink receives every entry as it is written.
type Sink func(Entry) error

// Assemble writes every encoded record of batches, in the given batch order
// and key order within a batch, to ws.ArchivePath(). Ids start at 1 and are
// assigned at emission time. It returns the number of entries.
func Assemble(ctx context.Context, ws *workspace.Workspace, batches []string, sink Sink) (int, error) {
	var id int
	err := iopkg.WriteFileAtomic(ws.ArchivePath(), func(w io.Writer) error {
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			eb, err := encode.ReadEncoded(ws.EncodedPath(batch))
			if err != nil {
				return fmt.Errorf("batch %s: %w", batch, err)
			}
			for _, r := range eb.Records {
				id++
				e := Entry{ID: id, Key: r.Key, Sequence: r.Sequence}
				if err := WriteEntry(w, e); err != nil {
					return err
				}
				if sink != nil {
					if err := sink(e); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// WriteEntry writes ">gi|<id> <key>" followed by the sequence line.
func WriteEntry(w io.Writer, e Entry) error {
	_, err := fmt.Fprintf(w, ">gi|%d %s\n%s\n", e.ID, e.Key, e.Sequence)
	return err
}

var ErrBadArchive = errors.New("bad archive")

// Read parses an archive written by Assemble.
func Read(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 256*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		h := sc.Text()
		if !strings.HasPrefix(h, ">gi|") {
			return fmt.Errorf("%w: line %d: expected header", ErrBadArchive, line)
		}
		idStr, key, ok := strings.Cut(strings.TrimPrefix(h, ">gi|"), " ")
		if !ok {
			return fmt.Errorf("%w: line %d: header without key", ErrBadArchive, line)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrBadArchive, line, err)
		}
		if !sc.Scan() {
			return fmt.Errorf("%w: line %d: header without sequence", ErrBadArchive, line)
		}
		line++
		if err := fn(Entry{ID: id, Key: key, Sequence: sc.Text()}); err != nil {
			return err
		}
	}
	return sc.Err()
}
