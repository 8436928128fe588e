package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/yourorg/textblast/internal/catalog"
)

type lookupLine struct {
	ID     int             `json:"id"`
	Key    string          `json:"key"`
	Length int             `json:"length"`
	Batch  string          `json:"batch"`
	Title  string          `json:"title"`
	Year   json.RawMessage `json:"year"`
}

// runLookup resolves archive ids, as reported by blastp, through a run's
// catalog.db and prints one JSON object per id.
func runLookup(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("textblast lookup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("catalog", "", "catalog.db written by a run with -catalog [required]")
	counts := fs.Bool("counts", false, "print record and entry counts first")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  textblast lookup -catalog OUT/catalog.db [-counts] ID...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if *path == "" || (fs.NArg() == 0 && !*counts) {
		fs.Usage()
		return ExitUsage
	}
	ids := make([]int, 0, fs.NArg())
	for _, a := range fs.Args() {
		id, err := strconv.Atoi(a)
		if err != nil || id < 1 {
			fmt.Fprintf(stderr, "invalid id %q\n", a)
			return ExitUsage
		}
		ids = append(ids, id)
	}
	// Open would create an empty catalog
	if _, err := os.Stat(*path); err != nil {
		fmt.Fprintf(stderr, "textblast: %v\n", err)
		return ExitFailure
	}
	c, err := catalog.Open(ctx, *path)
	if err != nil {
		fmt.Fprintf(stderr, "textblast: %v\n", err)
		return ExitFailure
	}
	defer c.Close()

	if *counts {
		records, entries, err := c.Counts(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "textblast: %v\n", err)
			return ExitFailure
		}
		fmt.Fprintf(stdout, "records %d, entries %d\n", records, entries)
	}
	code := ExitOK
	enc := json.NewEncoder(stdout)
	for _, id := range ids {
		h, err := c.Lookup(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "textblast: %v\n", err)
			code = ExitFailure
			continue
		}
		if err := enc.Encode(lookupLine{ID: h.ID, Key: h.Key, Length: h.Length, Batch: h.Meta.Batch, Title: h.Meta.Title, Year: h.Meta.Year}); err != nil {
			fmt.Fprintf(stderr, "textblast: %v\n", err)
			return ExitFailure
		}
	}
	return code
}
