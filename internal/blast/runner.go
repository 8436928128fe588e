package blast

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/errs"
	znmetrics "github.com/yourorg/textblast/internal/metrics"
)

// Command is one external invocation. Tool names it in errors and metrics.
type Command struct {
	Tool string
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner executes a command and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes. Cancelling ctx kills the
// process. Stdout is discarded; the tail of stderr is kept for errors.
type ExecRunner struct {
	Logger *zap.Logger
	// StderrLimit caps the stderr kept for error messages; 0 means 4 KiB.
	StderrLimit int
}

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := r.StderrLimit
	if limit <= 0 {
		limit = 4 << 10
	}
	stderr := &tailBuffer{max: limit}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stderr = stderr
	// Grandchildren may hold the stderr pipe open after a kill.
	cmd.WaitDelay = 2 * time.Second

	log.Info("running external tool", zap.String("tool", c.Tool), zap.String("cmd", c.String()))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		znmetrics.ToolRuns.WithLabelValues(c.Tool, "ok").Inc()
		log.Info("external tool finished", zap.String("tool", c.Tool), zap.Duration("elapsed", elapsed))
		return nil
	}

	te := &errs.ToolError{Tool: c.Tool, ExitCode: -1, Stderr: strings.TrimSpace(stderr.String())}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		te.ExitCode = ee.ExitCode()
	} else {
		te.Err = err
	}
	if ctx.Err() != nil {
		te.Err = errors.Join(err, ctx.Err())
	}
	znmetrics.ToolRuns.WithLabelValues(c.Tool, "failed").Inc()
	log.Error("external tool failed", zap.String("tool", c.Tool), zap.Int("exit_code", te.ExitCode),
		zap.Duration("elapsed", elapsed), zap.String("stderr", te.Stderr), zap.Error(err))
	return te
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
