// Package cli is the command-line front end of a single-process run.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/logging"
	znmetrics "github.com/yourorg/textblast/internal/metrics"
	"github.com/yourorg/textblast/internal/pipeline"
	"github.com/yourorg/textblast/internal/storage"
	"github.com/yourorg/textblast/internal/types"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

type Options struct {
	Params      types.RunParams
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
	// PublishTo is an s3:// prefix the output folder is copied to on success.
	PublishTo string
}

func newFlagSet(stderr io.Writer, o *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("textblast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	p := &o.Params
	fs.StringVar(&p.DataLocation, "data", "", "JSON file, directory of JSON files, or s3://bucket/prefix [required]")
	fs.StringVar(&p.DataLocation, "d", "", "alias of -data")
	fs.StringVar(&p.OutputFolder, "out", "", "output folder [required]")
	fs.StringVar(&p.OutputFolder, "out_folder", "", "alias of -out")
	fs.IntVar(&p.Workers, "workers", 1, "parallel encoder workers; also the default blastp thread count")
	fs.IntVar(&p.Workers, "num-process", 1, "alias of -workers")
	fs.IntVar(&p.Workers, "num_process", 1, "alias of -workers")
	fs.IntVar(&p.MinLength, "min-length", 0, "minimum hit length passed to clustering")
	fs.IntVar(&p.MinLength, "min_length", 0, "alias of -min-length")
	fs.BoolVar(&p.Subgraph, "subgraphs", false, "ask clustering to save subgraphs")
	fs.BoolVar(&p.TSV, "tsv", false, "ask clustering to write a TSV file")
	fs.BoolVar(&p.Full, "full", false, "ask clustering to store full clusters")
	fs.BoolVar(&p.KeepScratch, "keep-scratch", false, "leave the scratch directories in place")
	fs.BoolVar(&p.Catalog, "catalog", false, "also write catalog.db (sqlite) next to metadata.json")
	fs.StringVar(&o.ConfigPath, "config", "", "YAML file with tool paths and search parameters")
	fs.StringVar(&o.LogLevel, "log-level", config.Getenv("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fs.StringVar(&o.PublishTo, "publish", "", "copy the final artifacts to this s3://bucket/prefix after a successful run")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  textblast -data DIR|FILE|s3://... -out DIR [options]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	return fs
}

// ParseArgs parses argv. Missing required flags and stray positionals are
// usage errors.
func ParseArgs(argv []string, stderr io.Writer) (Options, error) {
	var o Options
	fs := newFlagSet(stderr, &o)
	if err := fs.Parse(argv); err != nil {
		return o, err
	}
	var missing []string
	if o.Params.DataLocation == "" {
		missing = append(missing, "-data")
	}
	if o.Params.OutputFolder == "" {
		missing = append(missing, "-out")
	}
	if len(missing) > 0 {
		fs.Usage()
		return o, fmt.Errorf("missing required flag(s): %s", strings.Join(missing, ", "))
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.Params.Workers < 1 {
		return o, fmt.Errorf("-workers must be at least 1")
	}
	if o.PublishTo != "" && !strings.HasPrefix(o.PublishTo, "s3://") {
		return o, fmt.Errorf("-publish must be an s3:// prefix")
	}
	return o, nil
}

// Run parses argv, runs the pipeline and returns the process exit code.
// "textblast lookup ..." resolves archive ids through a run's catalog instead.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	return RunWith(ctx, argv, stdout, stderr, pipeline.Deps{}, nil)
}

// RunWith is Run with injected collaborators. Config in d is replaced by
// what the flags select; store may be nil and is then built from the AWS
// environment when -publish is given.
func RunWith(ctx context.Context, argv []string, stdout, stderr io.Writer, d pipeline.Deps, store storage.ObjectStore) int {
	if len(argv) > 0 && argv[0] == "lookup" {
		return runLookup(ctx, argv[1:], stdout, stderr)
	}
	o, err := ParseArgs(argv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	d.Config = cfg

	if d.Logger == nil {
		zl := logging.New(o.LogLevel)
		defer zl.Sync()
		d.Logger = zl
	}
	if o.MetricsAddr != "" {
		znmetrics.Init()
		go func() {
			if err := znmetrics.Serve(o.MetricsAddr); err != nil {
				d.Logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	res, err := pipeline.Run(ctx, o.Params, d)
	if err != nil {
		fmt.Fprintf(stderr, "textblast: %v\n", err)
		if errs.Classify(err) == errs.CodeCanceled || ctx.Err() != nil {
			return ExitInterrupted
		}
		return ExitFailure
	}
	fmt.Fprintf(stdout, "run %s: %d records, %d archive entries, output in %s\n",
		res.RunID, res.Records, res.Entries, o.Params.OutputFolder)

	if o.PublishTo != "" {
		if store == nil {
			s3c, err := storage.NewS3(ctx)
			if err != nil {
				fmt.Fprintf(stderr, "textblast: publish: %v\n", err)
				return ExitFailure
			}
			store = s3c
		}
		uris, err := storage.Publish(ctx, store, o.Params.OutputFolder, o.PublishTo)
		if err != nil {
			fmt.Fprintf(stderr, "textblast: %v\n", err)
			return ExitFailure
		}
		d.Logger.Info("artifacts published", zap.String("prefix", o.PublishTo), zap.Int("objects", len(uris)))
		fmt.Fprintf(stdout, "published %d objects to %s\n", len(uris), o.PublishTo)
	}
	return ExitOK
}
