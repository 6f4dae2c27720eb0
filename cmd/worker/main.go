package main

import (
	"context"
	"log"
	"time"

	"litground/internal/activities"
	"litground/internal/app"
	"litground/internal/config"
	"litground/internal/logger"
	"litground/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	stack, err := app.Build(ctx, cfg, lg)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer stack.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	var docs activities.DocumentRecorder
	if stack.Documents != nil {
		docs = stack.Documents
	}
	activities.Register(w, activities.New(stack.Ingester, docs, cfg.DataInRoot, lg.With("component", "activities")))

	lg.Info("litground worker listening", "temporal", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue,
		"llm_providers", cfg.LLMProviders, "embed_providers", cfg.EmbedProviders)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
