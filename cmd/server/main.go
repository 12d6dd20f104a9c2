// Package main runs the GalleryDrop HTTP API on its own.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/gallerydrop/internal/api"
	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/logging"
	"github.com/dharsanguruparan/gallerydrop/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, closePipeline, err := ingest.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("init pipeline: %v", err)
	}
	defer closePipeline()

	srv := api.New(cfg, pipeline, storage.NewMemoryStore(), logger)
	if err := srv.Run(ctx); err != nil {
		logger.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}
