package types

import (
	"encoding/json"
	"time"
)

// RunParams describes one pipeline run. It is also the Temporal workflow input.
type RunParams struct {
	RunID        string `json:"run_id"`
	DataLocation string `json:"data_location"` // file, directory or s3://bucket/prefix
	OutputFolder string `json:"output_folder"`
	Workers      int    `json:"workers"`
	MinLength    int    `json:"min_length"`
	Subgraph     bool   `json:"subgraph"`
	TSV          bool   `json:"tsv"`
	Full         bool   `json:"full"`
	// If true, scratch directories are left in place after the run.
	KeepScratch bool `json:"keep_scratch"`
	// If true, catalog.db (sqlite) is written next to metadata.json.
	Catalog bool `json:"catalog"`
}

// SourceResult is the resolved document source.
type SourceResult struct {
	Base    string   `json:"base"`
	Batches []string `json:"batches"` // sorted
}

// InputRecord is one document as found in an input batch.
type InputRecord struct {
	Text  *string         `json:"text"`
	Year  json.RawMessage `json:"year"`
	Title *string         `json:"title"`
}

// Metadata is what survives of a record besides its sequence.
type Metadata struct {
	Year  json.RawMessage `json:"year"`
	Title string          `json:"title"`
	Batch string          `json:"batch"`
}

// EncodedRecord is one (record-key, sequence) pair.
type EncodedRecord struct {
	Key      string `msgpack:"k"`
	Sequence string `msgpack:"s"`
}

// EncodedBatch is the private output of one encoder worker; records are sorted by key.
type EncodedBatch struct {
	Batch   string          `msgpack:"b"`
	Records []EncodedRecord `msgpack:"r"`
}

// EncodeParams instructs one encode activity.
type EncodeParams struct {
	Base         string `json:"base"`
	Batch        string `json:"batch"`
	OutputFolder string `json:"output_folder"`
}

type BatchStats struct {
	Batch       string `json:"batch"`
	Records     int    `json:"records"`
	SourceBytes int64  `json:"source_bytes"`
}

// AssembleParams drives both merge and archive assembly; Batches is in discovery order.
type AssembleParams struct {
	OutputFolder string   `json:"output_folder"`
	Batches      []string `json:"batches"`
	Catalog      bool     `json:"catalog"`
}

type MergeStats struct {
	Records int `json:"records"`
}

type ArchiveStats struct {
	Entries int `json:"entries"`
}

// SearchParams instructs the external tool activities.
type SearchParams struct {
	OutputFolder string `json:"output_folder"`
	DataLocation string `json:"data_location"`
	Threads      int    `json:"threads"`
	MinLength    int    `json:"min_length"`
	Subgraph     bool   `json:"subgraph"`
	TSV          bool   `json:"tsv"`
	Full         bool   `json:"full"`
}

// CleanupParams instructs the cleanup activity which output folder's scratch tree to remove.
type CleanupParams struct {
	OutputFolder string `json:"output_folder"`
}

// RunResult summarises a finished run; it is persisted as manifest.json.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Params     RunParams     `json:"params"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Batches    []BatchStats  `json:"batches"`
	Records    int           `json:"records"`
	Entries    int           `json:"entries"`
	ToolsRun   []string      `json:"tools_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
