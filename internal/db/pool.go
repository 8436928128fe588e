package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// Connect establishes a pgx connection pool and makes sure the registry
// schema exists.
func Connect(ctx context.Context, cfg Config) (*Pool, error) {
	conf, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, err
	}
	// the registry sees one write per run start and one per status poll
	conf.MaxConns = 4
	conf.MinConns = 0
	conf.MaxConnLifetime = 55 * time.Minute
	conf.MaxConnIdleTime = 10 * time.Minute
	conf.HealthCheckPeriod = 30 * time.Second

	p, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, err
	}
	return &Pool{Pool: p}, nil
}

// Close closes the underlying pool.
func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

const schema = `
create table if not exists run (
	workflow_id   text primary key,
	run_id        text not null,
	data_location text not null,
	output_folder text not null,
	status        text not null,
	error_kind    text,
	result        jsonb,
	created_at    timestamptz not null default now(),
	updated_at    timestamptz not null default now()
);
create index if not exists run_created_at_idx on run (created_at desc);
`
