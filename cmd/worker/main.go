package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/gallerydrop/internal/catalog"
	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/logging"
	"github.com/dharsanguruparan/gallerydrop/internal/signing"
	"github.com/dharsanguruparan/gallerydrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}

	signer := signing.NewSigner(cfg.Secret(), cfg.SignedURLTTL)
	fin := catalog.NewHTTP(cfg.FinalizeURL, signer, logger)

	server := asynq.NewServer(ingest.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})
	mux := worker.NewProcessor(fin, logger).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.Errorf("worker stopped: %v", err)
		os.Exit(1)
	}
}
