package encode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/textblast/internal/alphabet"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return ws
}

func writeInput(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBatchWritesBothArtifacts(t *testing.T) {
	in := t.TempDir()
	writeInput(t, in, "a.json", `{
		"r2": {"text": "bar", "year": "1901", "title": "T2"},
		"r1": {"text": "foo", "year": 1900, "title": "T1", "extra": true}
	}`)
	ws := newWorkspace(t)

	var seen []int
	st, err := Batch(context.Background(), alphabet.Protein{}, in, "a.json", ws, func(n int) { seen = append(seen, n) })
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if st.Batch != "a.json" || st.Records != 2 || st.SourceBytes == 0 {
		t.Fatalf("stats=%+v", st)
	}
	if len(seen) == 0 || seen[len(seen)-1] != 2 {
		t.Fatalf("progress=%v", seen)
	}

	eb, err := ReadEncoded(ws.EncodedPath("a.json"))
	if err != nil {
		t.Fatalf("ReadEncoded: %v", err)
	}
	if len(eb.Records) != 2 || eb.Records[0].Key != "r1" || eb.Records[1].Key != "r2" {
		t.Fatalf("records not sorted by key: %+v", eb.Records)
	}
	if eb.Records[0].Sequence != "FQQ" || eb.Records[1].Sequence != "PAR" {
		t.Fatalf("sequences: %+v", eb.Records)
	}

	meta, err := ReadMetadata(ws.MetadataPath("a.json"))
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if string(meta["r1"].Year) != "1900" || string(meta["r2"].Year) != `"1901"` {
		t.Fatalf("year not preserved verbatim: %s / %s", meta["r1"].Year, meta["r2"].Year)
	}
	if meta["r1"].Title != "T1" || meta["r1"].Batch != "a.json" {
		t.Fatalf("meta r1=%+v", meta["r1"])
	}
}

func TestBatchMalformed(t *testing.T) {
	cases := map[string]string{
		"array.json":    `[1,2,3]`,
		"null.json":     `null`,
		"broken.json":   `{"r1": {"text": "x"`,
		"notext.json":   `{"r1": {"year": 1900, "title": "T"}}`,
		"noyear.json":   `{"r1": {"text": "x", "year": null, "title": "T"}}`,
		"notitle.json":  `{"r1": {"text": "x", "year": 1900}}`,
		"badtext.json":  `{"r1": {"text": 7, "year": 1900, "title": "T"}}`,
		"trailing.json": `{"r1": {"text": "x", "year": 1, "title": "T"}} {}`,
		"newline.json":  `{"r\n1": {"text": "x", "year": 1, "title": "T"}}`,
	}
	in := t.TempDir()
	for name, body := range cases {
		writeInput(t, in, name, body)
	}
	ws := newWorkspace(t)
	for name := range cases {
		_, err := Batch(context.Background(), alphabet.Protein{}, in, name, ws, nil)
		if !errors.Is(err, errs.ErrMalformedInput) {
			t.Fatalf("%s: expected ErrMalformedInput, got %v", name, err)
		}
		if _, err := os.Stat(ws.EncodedPath(name)); !os.IsNotExist(err) {
			t.Fatalf("%s: partial encoded artifact written", name)
		}
	}
}

func TestBatchEncodingErrorLeavesNothing(t *testing.T) {
	in := t.TempDir()
	writeInput(t, in, "a.json", `{
		"r1": {"text": "fine", "year": 1, "title": "ok"},
		"r2": {"text": "Москва", "year": 2, "title": "bad"}
	}`)
	ws := newWorkspace(t)
	_, err := Batch(context.Background(), alphabet.Protein{}, in, "a.json", ws, nil)
	if !errors.Is(err, errs.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
	if !strings.Contains(err.Error(), `"r2"`) {
		t.Fatalf("error should name the record: %v", err)
	}
	for _, p := range []string{ws.EncodedPath("a.json"), ws.MetadataPath("a.json")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("artifact %s written for failed batch", p)
		}
	}
}

func TestBatchGzipInput(t *testing.T) {
	in := t.TempDir()
	writeGzip(t, filepath.Join(in, "z.json.gz"), `{"k": {"text": "abc", "year": 1850, "title": "Z"}}`)
	ws := newWorkspace(t)
	st, err := Batch(context.Background(), EncoderFunc(func(s string) (string, error) { return strings.ToUpper(s), nil }), in, "z.json.gz", ws, nil)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if st.Records != 1 {
		t.Fatalf("records=%d", st.Records)
	}
	eb, _ := ReadEncoded(ws.EncodedPath("z.json.gz"))
	if eb.Records[0].Sequence != "ABC" {
		t.Fatalf("seq=%q", eb.Records[0].Sequence)
	}
}

func TestBatchRejectsBadNameAndCanceledContext(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := Batch(context.Background(), alphabet.Protein{}, t.TempDir(), "../x.json", ws, nil); !errors.Is(err, errs.ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}

	in := t.TempDir()
	writeInput(t, in, "a.json", `{"r1": {"text": "foo", "year": 1900, "title": "T1"}}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Batch(ctx, alphabet.Protein{}, in, "a.json", ws, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
