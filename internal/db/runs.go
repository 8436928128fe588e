package db

import (
	"context"
	"time"
)

// Run is one row of the run registry.
type Run struct {
	WorkflowID   string    `json:"workflow_id"`
	RunID        string    `json:"run_id"`
	DataLocation string    `json:"data_location"`
	OutputFolder string    `json:"output_folder"`
	Status       string    `json:"status"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	Result       []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunRepository records runs started through the API.
type RunRepository interface {
	Create(ctx context.Context, r Run) (Run, error)
	Get(ctx context.Context, workflowID string) (Run, error)
	// UpdateStatus stores the latest known status; result may be nil.
	UpdateStatus(ctx context.Context, workflowID, status string, errorKind *string, result []byte) error
	// List returns the most recent runs first.
	List(ctx context.Context, limit, offset int) ([]Run, error)
}

func NewRunRepo(p *Pool) RunRepository { return &runRepo{p: p} }

type runRepo struct{ p *Pool }

const runColumns = `workflow_id, run_id, data_location, output_folder, status, error_kind, result, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(&r.WorkflowID, &r.RunID, &r.DataLocation, &r.OutputFolder, &r.Status, &r.ErrorKind, &r.Result, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *runRepo) Create(ctx context.Context, in Run) (Run, error) {
	const q = `insert into run (workflow_id, run_id, data_location, output_folder, status)
               values ($1, $2, $3, $4, $5)
               returning ` + runColumns
	out, err := scanRun(r.p.QueryRow(ctx, q, in.WorkflowID, in.RunID, in.DataLocation, in.OutputFolder, in.Status))
	if err != nil {
		return Run{}, mapPgErr(err)
	}
	return out, nil
}

func (r *runRepo) Get(ctx context.Context, workflowID string) (Run, error) {
	q := `select ` + runColumns + ` from run where workflow_id = $1`
	out, err := scanRun(r.p.QueryRow(ctx, q, workflowID))
	if err != nil {
		return Run{}, mapPgErr(err)
	}
	return out, nil
}

func (r *runRepo) UpdateStatus(ctx context.Context, workflowID, status string, errorKind *string, result []byte) error {
	const q = `update run set status = $1, error_kind = $2, result = coalesce($3::jsonb, result), updated_at = now()
               where workflow_id = $4`
	var res *string
	if result != nil {
		s := string(result)
		res = &s
	}
	tag, err := r.p.Exec(ctx, q, status, errorKind, res, workflowID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *runRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `select ` + runColumns + ` from run order by created_at desc, workflow_id limit $1 offset $2`
	rows, err := r.p.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
