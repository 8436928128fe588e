package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourorg/textblast/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if ctx.Err() != nil && code == cli.ExitOK {
		code = cli.ExitInterrupted
	}
	stop()
	os.Exit(code)
}
