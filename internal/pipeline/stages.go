package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/archive"
	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/catalog"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/iopkg"
	"github.com/yourorg/textblast/internal/merge"
	znmetrics "github.com/yourorg/textblast/internal/metrics"
	"github.com/yourorg/textblast/internal/source"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

// Stage names used in errors, log fields and metric labels.
const (
	StageConfig    = "config"
	StageSource    = "source"
	StageWorkspace = "workspace"
	StageEncode    = "encode"
	StageMerge     = "merge"
	StageArchive   = "archive"
	StageIndex     = "index"
	StageSearch    = "search"
	StageCluster   = "cluster"
	StageCleanup   = "cleanup"
	StageManifest  = "manifest"
)

// NewRunID returns a sortable run identifier.
func NewRunID() string { return ulid.Make().String() }

func observe(stage string, start time.Time, err error) {
	znmetrics.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		znmetrics.StageFailures.WithLabelValues(stage, string(errs.Classify(err))).Inc()
	}
}

func ResolveSource(ctx context.Context, location string) (res types.SourceResult, err error) {
	start := time.Now()
	defer func() { observe(StageSource, start, err) }()
	res, err = source.Resolve(ctx, location)
	return res, errs.Stage(StageSource, "", err)
}

// EncodeBatch runs one encoder worker over batch and counts what it produced.
func EncodeBatch(ctx context.Context, enc encode.Encoder, base, batch string, ws *workspace.Workspace, progress func(int)) (st types.BatchStats, err error) {
	start := time.Now()
	defer func() { observe(StageEncode, start, err) }()
	st, err = encode.Batch(ctx, enc, base, batch, ws, progress)
	if err != nil {
		return types.BatchStats{}, errs.Stage(StageEncode, batch, err)
	}
	znmetrics.BatchesEncoded.Inc()
	znmetrics.RecordsEncoded.Add(float64(st.Records))
	return st, nil
}

func openIndex(ws *workspace.Workspace, kind string) (merge.KeyIndex, error) {
	if kind == config.IndexBadger {
		return merge.NewBadgerIndex(ws.Dir(workspace.KeyIndexDir))
	}
	return merge.NewMemoryIndex(), nil
}

// MergeMetadata writes metadata.json from the per-batch partials and, when
// withCatalog is set, mirrors every record into catalog.db.
func MergeMetadata(ctx context.Context, ws *workspace.Workspace, batches []string, index string, withCatalog bool) (n int, err error) {
	start := time.Now()
	defer func() { observe(StageMerge, start, err) }()
	idx, err := openIndex(ws, index)
	if err != nil {
		return 0, errs.Stage(StageMerge, "", err)
	}
	defer idx.Close()

	run := func(sink merge.Sink) error {
		var err error
		n, err = merge.Metadata(ctx, ws, batches, idx, sink)
		return err
	}
	if withCatalog {
		err = withCatalogDB(ctx, ws, func(c *catalog.Catalog) error { return c.ReplaceRecords(ctx, run) })
	} else {
		err = run(nil)
	}
	if err != nil {
		var dup *errs.DuplicateKeyError
		if errors.As(err, &dup) {
			return 0, errs.Stage(StageMerge, dup.SecondBatch, err)
		}
		return 0, errs.Stage(StageMerge, "", err)
	}
	znmetrics.MetadataMerged.Add(float64(n))
	return n, nil
}

// AssembleArchive writes the numbered FASTA archive and, when withCatalog
// is set, records each entry in catalog.db.
func AssembleArchive(ctx context.Context, ws *workspace.Workspace, batches []string, withCatalog bool) (n int, err error) {
	start := time.Now()
	defer func() { observe(StageArchive, start, err) }()
	run := func(sink archive.Sink) error {
		var err error
		n, err = archive.Assemble(ctx, ws, batches, sink)
		return err
	}
	if withCatalog {
		err = withCatalogDB(ctx, ws, func(c *catalog.Catalog) error { return c.ReplaceEntries(ctx, run) })
	} else {
		err = run(nil)
	}
	if err != nil {
		return 0, errs.Stage(StageArchive, "", err)
	}
	znmetrics.ArchiveEntries.Add(float64(n))
	return n, nil
}

func withCatalogDB(ctx context.Context, ws *workspace.Workspace, fn func(*catalog.Catalog) error) error {
	c, err := catalog.Open(ctx, ws.CatalogFile())
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		_ = c.Close()
		return err
	}
	return c.Close()
}

func BuildIndex(ctx context.Context, inv blast.Invoker, ws *workspace.Workspace) (err error) {
	start := time.Now()
	defer func() { observe(StageIndex, start, err) }()
	return errs.Stage(StageIndex, "", inv.BuildIndex(ctx, ws))
}

func Search(ctx context.Context, inv blast.Invoker, ws *workspace.Workspace, threads int) (err error) {
	start := time.Now()
	defer func() { observe(StageSearch, start, err) }()
	return errs.Stage(StageSearch, "", inv.Search(ctx, ws, threads))
}

func Cluster(ctx context.Context, inv blast.Invoker, ws *workspace.Workspace, req blast.ClusterRequest) (err error) {
	start := time.Now()
	defer func() { observe(StageCluster, start, err) }()
	return errs.Stage(StageCluster, "", inv.Cluster(ctx, ws, req))
}

// Finish stamps the terminal status of res from err.
func Finish(res *types.RunResult, err error) {
	res.FinishedAt = time.Now().UTC()
	res.Elapsed = res.FinishedAt.Sub(res.StartedAt)
	if err != nil {
		res.Status = types.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = string(errs.Classify(err))
		return
	}
	res.Status = types.StatusSucceeded
	res.Error, res.ErrorKind = "", ""
}

// WriteManifest stores res as indented JSON at path.
func WriteManifest(path string, res types.RunResult) error {
	err := iopkg.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	})
	return errs.Stage(StageManifest, "", err)
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
