package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/activities"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/logging"
	znmetrics "github.com/yourorg/textblast/internal/metrics"
	"github.com/yourorg/textblast/internal/workflow"
)

func main() {
	// Support both TEMPORAL_TARGET_HOST and TEMPORAL_ADDRESS for compatibility
	taddr := config.Getenv("TEMPORAL_TARGET_HOST", config.Getenv("TEMPORAL_ADDRESS", "localhost:7233"))
	ns := config.Getenv("TEMPORAL_NAMESPACE", "default")
	q := config.Getenv("TEMPORAL_TASK_QUEUE", "textblast")

	zl := logging.New(config.Getenv("LOG_LEVEL", "info"))
	defer zl.Sync()

	cfg, err := config.Load(config.Getenv("TEXTBLAST_CONFIG", ""))
	if err != nil {
		zl.Fatal("config", zap.Error(err))
	}

	znmetrics.Init()
	go func() {
		addr := znmetrics.AddrFromEnv()
		if err := znmetrics.Serve(addr); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	c, err := client.Dial(client.Options{HostPort: taddr, Namespace: ns})
	if err != nil {
		log.Fatal("temporal client:", err)
	}
	defer c.Close()

	// One encode activity is one worker slot.
	w := worker.New(c, q, worker.Options{
		MaxConcurrentActivityExecutionSize: config.GetenvInt("TEXTBLAST_MAX_ACTIVITIES", 0),
	})
	activities.New(activities.Config{Pipeline: cfg, Logger: zl}).Register(w)
	w.RegisterWorkflow(workflow.TextBlastWorkflow)

	zl.Info("worker started", zap.String("namespace", ns), zap.String("taskQueue", q),
		zap.String("makeblastdb", cfg.Tools.MakeBlastDB), zap.String("blastp", cfg.Tools.BlastP),
		zap.String("metrics", znmetrics.AddrFromEnv()))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker failed:", err)
	}
}
