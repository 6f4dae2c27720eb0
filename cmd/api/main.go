package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"litground/internal/api"
	"litground/internal/app"
	"litground/internal/config"
	"litground/internal/logger"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	stack, err := app.Build(ctx, cfg, lg)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer stack.Close()

	deps := api.Deps{
		Sessions: stack.Sessions,
		Batch:    stack.Ingester,
		Venues:   stack.Venues,
		Log:      lg.With("component", "api"),
	}
	if stack.Documents != nil {
		deps.Documents = stack.Documents
	}
	if strings.EqualFold(cfg.IngestMode, "temporal") {
		tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			log.Fatal(err)
		}
		defer tc.Close()
		deps.Temporal = tc
	}

	h := api.NewServer(cfg, deps)
	lg.Info("litground api listening", "addr", cfg.APIAddr, "ingest_mode", cfg.IngestMode,
		"vector_store", cfg.VectorStore, "llm_providers", cfg.LLMProviders, "embed_providers", cfg.EmbedProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
