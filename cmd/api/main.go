package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/api"
	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/db"
	"github.com/yourorg/textblast/internal/logging"
)

func main() {
	zl := logging.New(config.Getenv("LOG_LEVEL", "info"))
	defer zl.Sync()

	// Run registry is optional
	var store api.RunStore
	if db.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := db.Connect(ctx, db.FromEnv())
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		store = db.NewRunRepo(pool)
	} else {
		zl.Info("no DB_HOST or DB_DSN, run registry disabled")
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  config.Getenv("TEMPORAL_ADDRESS", "localhost:7233"),
		Namespace: config.Getenv("TEMPORAL_NAMESPACE", "default"),
	})
	if err != nil {
		log.Fatalf("Failed to connect to Temporal: %v", err)
	}
	defer temporalClient.Close()

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	starter := api.TemporalStarter{
		Client:    temporalClient,
		TaskQueue: config.Getenv("TEMPORAL_TASK_QUEUE", "textblast"),
	}
	api.NewRunHandler(starter, store, zl).Register(r.Group("/api/v1"))

	port := config.Getenv("PORT", "8080")
	zl.Info("server starting", zap.String("port", port))
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
