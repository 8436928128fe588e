package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/yourorg/textblast/internal/archive"
	"github.com/yourorg/textblast/internal/blast"
	"github.com/yourorg/textblast/internal/catalog"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/encode"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/types"
	"github.com/yourorg/textblast/internal/workspace"
)

// fakeRunner records tool invocations and snapshots the archive when the
// index is built, since the scratch tree is gone once Run returns.
type fakeRunner struct {
	mu      sync.Mutex
	tools   []string
	archive []byte
	fail    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, c blast.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, c.Tool)
	if c.Tool == blast.ToolMakeBlastDB {
		in := c.Args[len(c.Args)-1]
		b, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		f.archive = b
	}
	return f.fail[c.Tool]
}

func writeBatches(t *testing.T, batches map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range batches {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func deps(t *testing.T, r blast.Runner) Deps {
	return Deps{Runner: r, Config: config.Default(), Logger: zaptest.NewLogger(t)}
}

func readMetadata(t *testing.T, out string) map[string]types.Metadata {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(out, workspace.MetadataFile))
	if err != nil {
		t.Fatalf("metadata.json: %v", err)
	}
	var m map[string]types.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("metadata.json: %v", err)
	}
	return m
}

func parseArchive(t *testing.T, b []byte) []archive.Entry {
	t.Helper()
	var out []archive.Entry
	if err := archive.Read(bytes.NewReader(b), func(e archive.Entry) error {
		out = append(out, e)
		return nil
	}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	return out
}

func assertNoScratch(t *testing.T, out string) {
	t.Helper()
	for _, d := range []string{workspace.EncodedDir, workspace.MetadataDir, workspace.DatabaseDir, workspace.ResultsDir, workspace.KeyIndexDir} {
		if _, err := os.Stat(filepath.Join(out, d)); !os.IsNotExist(err) {
			t.Fatalf("scratch dir %s left behind (%v)", d, err)
		}
	}
}

func readManifest(t *testing.T, out string) types.RunResult {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(out, workspace.ManifestFile))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	var r types.RunResult
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	return r
}

func TestRunTwoBatches(t *testing.T) {
	data := writeBatches(t, map[string]string{
		"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`,
		"b.json": `{"r2": {"text": "bar", "year": 1901, "title": "T2"}}`,
	})
	out := filepath.Join(t.TempDir(), "out")
	r := &fakeRunner{}
	res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 2}, deps(t, r))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != types.StatusSucceeded || res.Records != 2 || res.Entries != 2 || res.RunID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if strings.Join(r.tools, ",") != "makeblastdb,blastp,cluster" {
		t.Fatalf("tools %v", r.tools)
	}

	entries := parseArchive(t, r.archive)
	if len(entries) != 2 || entries[0].ID != 1 || entries[1].ID != 2 {
		t.Fatalf("entries %+v", entries)
	}
	if entries[0].Key != "r1" || entries[1].Key != "r2" {
		t.Fatalf("entries not in batch order: %+v", entries)
	}

	m := readMetadata(t, out)
	if len(m) != 2 || string(m["r1"].Year) != "1900" || m["r2"].Title != "T2" || m["r2"].Batch != "b.json" {
		t.Fatalf("metadata %+v", m)
	}
	assertNoScratch(t, out)
	man := readManifest(t, out)
	if man.Status != types.StatusSucceeded || man.Entries != 2 || len(man.Batches) != 2 {
		t.Fatalf("manifest %+v", man)
	}
}

func TestRunWorkerCountDoesNotChangeOutput(t *testing.T) {
	batches := map[string]string{}
	for i := 0; i < 7; i++ {
		var recs []string
		for j := 0; j < 5; j++ {
			recs = append(recs, fmt.Sprintf(`"k%d-%d": {"text": "text %d %d", "year": %d, "title": "t"}`, i, j, i, j, 1900+i))
		}
		batches[fmt.Sprintf("batch-%02d.json", i)] = "{" + strings.Join(recs, ",") + "}"
	}
	data := writeBatches(t, batches)

	var archives [][]byte
	var metas [][]byte
	for _, workers := range []int{1, 3, 16} {
		out := filepath.Join(t.TempDir(), "out")
		r := &fakeRunner{}
		res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: workers}, deps(t, r))
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if res.Entries != 35 {
			t.Fatalf("workers=%d entries=%d", workers, res.Entries)
		}
		archives = append(archives, r.archive)
		b, err := os.ReadFile(filepath.Join(out, workspace.MetadataFile))
		if err != nil {
			t.Fatal(err)
		}
		metas = append(metas, b)
	}
	for i := 1; i < len(archives); i++ {
		if !bytes.Equal(archives[0], archives[i]) || !bytes.Equal(metas[0], metas[i]) {
			t.Fatalf("output differs between worker counts")
		}
	}
	ids := parseArchive(t, archives[0])
	for i, e := range ids {
		if e.ID != i+1 {
			t.Fatalf("id %d at position %d", e.ID, i)
		}
	}
}

func TestRunDuplicateKey(t *testing.T) {
	data := writeBatches(t, map[string]string{
		"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`,
		"b.json": `{"r1": {"text": "bar", "year": 1901, "title": "T2"}}`,
	})
	out := filepath.Join(t.TempDir(), "out")
	r := &fakeRunner{}
	res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 2}, deps(t, r))
	if !errors.Is(err, errs.ErrDuplicateRecordKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	var dup *errs.DuplicateKeyError
	if !errors.As(err, &dup) || dup.FirstBatch != "a.json" || dup.SecondBatch != "b.json" {
		t.Fatalf("duplicate details %+v", dup)
	}
	if len(r.tools) != 0 {
		t.Fatalf("tools ran after failed merge: %v", r.tools)
	}
	if _, err := os.Stat(filepath.Join(out, workspace.MetadataFile)); !os.IsNotExist(err) {
		t.Fatalf("partial metadata.json written")
	}
	assertNoScratch(t, out)
	if res.ErrorKind != string(errs.CodeDuplicateKey) || readManifest(t, out).Status != types.StatusFailed {
		t.Fatalf("result %+v", res)
	}
}

func TestRunBadgerIndex(t *testing.T) {
	data := writeBatches(t, map[string]string{
		"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`,
		"b.json": `{"r1": {"text": "bar", "year": 1901, "title": "T2"}}`,
	})
	d := deps(t, &fakeRunner{})
	d.Config.Merge.Index = config.IndexBadger
	out := filepath.Join(t.TempDir(), "out")
	if _, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 1}, d); !errors.Is(err, errs.ErrDuplicateRecordKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	assertNoScratch(t, out)
}

func TestRunEmptyDirectorySkipsTools(t *testing.T) {
	data := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	r := &fakeRunner{}
	res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 4}, deps(t, r))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Entries != 0 || res.Records != 0 || len(r.tools) != 0 {
		t.Fatalf("result %+v tools %v", res, r.tools)
	}
	if m := readMetadata(t, out); len(m) != 0 {
		t.Fatalf("metadata %v", m)
	}
	assertNoScratch(t, out)
}

func TestRunSearchFailureSkipsCluster(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := filepath.Join(t.TempDir(), "out")
	r := &fakeRunner{fail: map[string]error{blast.ToolBlastP: &errs.ToolError{Tool: blast.ToolBlastP, ExitCode: 2, Stderr: "bad db"}}}
	res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 1}, deps(t, r))
	if errs.Classify(err) != errs.CodeExternalTool {
		t.Fatalf("expected external tool failure, got %v", err)
	}
	var se *errs.StageError
	if !errors.As(err, &se) || se.Stage != StageSearch {
		t.Fatalf("stage %+v", se)
	}
	if strings.Join(r.tools, ",") != "makeblastdb,blastp" {
		t.Fatalf("tools %v", r.tools)
	}
	if len(res.ToolsRun) != 2 {
		t.Fatalf("tools run %v", res.ToolsRun)
	}
	assertNoScratch(t, out)
}

func TestRunEncodingFailureNamesBatch(t *testing.T) {
	data := writeBatches(t, map[string]string{
		"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`,
		"b.json": `{"r2": {"text": "poison", "year": 1901, "title": "T2"}}`,
	})
	out := filepath.Join(t.TempDir(), "out")
	d := deps(t, &fakeRunner{})
	d.Encoder = encode.EncoderFunc(func(s string) (string, error) {
		if s == "poison" {
			return "", errors.New("cannot encode")
		}
		return strings.ToUpper(s), nil
	})
	_, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 2}, d)
	if !errors.Is(err, errs.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	var se *errs.StageError
	if !errors.As(err, &se) || se.Stage != StageEncode || se.Batch != "b.json" {
		t.Fatalf("stage %+v", se)
	}
	assertNoScratch(t, out)
}

func TestRunWorkspaceExists(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := t.TempDir()
	stale := filepath.Join(out, workspace.EncodedDir, "left-over")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 1}, deps(t, &fakeRunner{}))
	if !errors.Is(err, errs.ErrWorkspaceExists) {
		t.Fatalf("expected workspace exists, got %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("existing scratch was touched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, workspace.ManifestFile)); !os.IsNotExist(err) {
		t.Fatalf("manifest written for a run that never started")
	}
}

func TestRunInvalidLocation(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	_, err := Run(context.Background(), types.RunParams{DataLocation: filepath.Join(out, "missing"), OutputFolder: out}, deps(t, &fakeRunner{}))
	if errs.Classify(err) != errs.CodeInvalidLocation {
		t.Fatalf("expected invalid location, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output folder created for an invalid location")
	}
}

func TestRunZeroConfigUsesDefaults(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := filepath.Join(t.TempDir(), "out")
	r := &fakeRunner{}
	res, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out},
		Deps{Runner: r, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Entries != 1 || strings.Join(r.tools, ",") != "makeblastdb,blastp,cluster" {
		t.Fatalf("unexpected result %+v tools %v", res, r.tools)
	}
}

func TestRunRejectsIncompleteConfig(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := filepath.Join(t.TempDir(), "out")
	cfg := config.Default()
	cfg.Tools.Cluster = nil
	r := &fakeRunner{}
	_, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out},
		Deps{Runner: r, Config: cfg, Logger: zaptest.NewLogger(t)})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if len(r.tools) != 0 {
		t.Fatalf("tools ran: %v", r.tools)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output folder created for an invalid config")
	}
}

func TestRunTwiceLeavesOnlyFinalFiles(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := filepath.Join(t.TempDir(), "out")
	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 1}, deps(t, &fakeRunner{})); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "manifest.json,metadata.json" {
		t.Fatalf("output folder holds %v", names)
	}
}

func TestRunKeepScratch(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	out := filepath.Join(t.TempDir(), "out")
	if _, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 1, KeepScratch: true}, deps(t, &fakeRunner{})); err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.ArchivePath()); err != nil {
		t.Fatalf("archive not kept: %v", err)
	}
}

func TestRunCatalog(t *testing.T) {
	data := writeBatches(t, map[string]string{
		"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`,
		"b.json": `{"r2": {"text": "bar", "year": 1901, "title": "T2"}}`,
	})
	out := filepath.Join(t.TempDir(), "out")
	if _, err := Run(context.Background(), types.RunParams{DataLocation: data, OutputFolder: out, Workers: 2, Catalog: true}, deps(t, &fakeRunner{})); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c, err := catalog.Open(ctx, filepath.Join(out, workspace.CatalogFile))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	h, err := c.Lookup(ctx, 2)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if h.Key != "r2" || h.Meta.Title != "T2" {
		t.Fatalf("hit %+v", h)
	}
}

func TestEncodeAllCancelled(t *testing.T) {
	data := writeBatches(t, map[string]string{"a.json": `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`})
	ws, err := workspace.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EncodeAll(ctx, encode.EncoderFunc(func(s string) (string, error) { return s, nil }), types.SourceResult{Base: data, Batches: []string{"a.json"}}, ws, 2, nil)
	if errs.Classify(err) != errs.CodeCanceled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
