package ingest

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/catalog"
	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/signing"
	"github.com/dharsanguruparan/gallerydrop/internal/transport"
)

// RedisOpt returns the asynq connection options from cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Build assembles a Pipeline with the transport and finalizer selected by
// cfg. The returned close function releases the queue client if one was
// opened.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Pipeline, func() error, error) {
	signer := signing.NewSigner(cfg.Secret(), cfg.SignedURLTTL)

	var tr transport.Transport
	switch cfg.Transport {
	case config.TransportS3:
		s3, err := transport.NewS3(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("prepare bucket: %w", err)
		}
		tr = s3
	default:
		tr = transport.NewHTTP(cfg.UploadURL, signer, log)
	}

	closer := func() error { return nil }
	var fin catalog.Finalizer
	switch cfg.FinalizeMode {
	case config.FinalizeQueue:
		client := asynq.NewClient(RedisOpt(cfg))
		fin = catalog.NewQueue(client)
		closer = client.Close
	case config.FinalizeNone:
		fin = catalog.Nop{}
	default:
		fin = catalog.NewHTTP(cfg.FinalizeURL, signer, log)
	}

	log.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"finalize":  cfg.FinalizeMode,
	}).Debug("pipeline assembled")
	return NewPipeline(cfg, tr, fin, log), closer, nil
}
