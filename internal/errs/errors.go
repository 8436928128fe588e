package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidLocation indicates the data location is neither a file nor a directory.
	ErrInvalidLocation = errors.New("invalid location")
	// ErrMalformedInput indicates a batch could not be decoded as key -> {text, year, title}.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEncoding indicates the encoder rejected a record's text.
	ErrEncoding = errors.New("encoding error")
	// ErrDuplicateRecordKey indicates two batches produced the same record key.
	ErrDuplicateRecordKey = errors.New("duplicate record key")
	// ErrWorkspaceExists indicates a scratch directory from another run is still present.
	ErrWorkspaceExists = errors.New("workspace exists")
	// ErrExternalTool indicates an external command exited non-zero.
	ErrExternalTool = errors.New("external tool failure")
)

// DuplicateKeyError names the key and both batches that produced it.
type DuplicateKeyError struct {
	Key         string
	FirstBatch  string
	SecondBatch string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate record key %q: first seen in %q, again in %q", e.Key, e.FirstBatch, e.SecondBatch)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateRecordKey }

// ToolError reports a failed external command. ExitCode is -1 when the
// process could not be started or was killed by a signal.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalTool, e.Err}
	}
	return []error{ErrExternalTool}
}

// StageError attaches the pipeline stage and, when known, the batch.
type StageError struct {
	Stage string
	Batch string
	Err   error
}

func (e *StageError) Error() string {
	if e.Batch != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Batch, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with stage context; nil stays nil.
func Stage(stage, batch string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Batch: batch, Err: err}
}

// Code is the error kind used for log fields, metric labels and
// Temporal application error types.
type Code string

const (
	CodeUnknown         Code = "Unknown"
	CodeCanceled        Code = "Canceled"
	CodeInvalidLocation Code = "InvalidLocation"
	CodeMalformedInput  Code = "MalformedInput"
	CodeEncoding        Code = "EncodingError"
	CodeDuplicateKey    Code = "DuplicateRecordKey"
	CodeWorkspaceExists Code = "WorkspaceExists"
	CodeExternalTool    Code = "ExternalToolFailure"
)

// Classify maps err onto its kind using errors.Is only. Cancellation wins
// over whatever the interrupted step reported.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrInvalidLocation):
		return CodeInvalidLocation
	case errors.Is(err, ErrMalformedInput):
		return CodeMalformedInput
	case errors.Is(err, ErrEncoding):
		return CodeEncoding
	case errors.Is(err, ErrDuplicateRecordKey):
		return CodeDuplicateKey
	case errors.Is(err, ErrWorkspaceExists):
		return CodeWorkspaceExists
	case errors.Is(err, ErrExternalTool):
		return CodeExternalTool
	default:
		return CodeUnknown
	}
}
