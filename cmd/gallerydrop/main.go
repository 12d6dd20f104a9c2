package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/gallerydrop/internal/api"
	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/logging"
	"github.com/dharsanguruparan/gallerydrop/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gallerydrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallerydrop",
		Short: "GalleryDrop media ingestion CLI",
		Long: `GalleryDrop validates, resizes and dates conference photos, then uploads them in
bounded-concurrency batches and announces each finished batch to the gallery catalog.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newUploadCmd(),
		newServeCmd(),
		newConfigCmd(),
	)
	return cmd
}

// setup loads the configuration and the logger shared by every command.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Address = addr
			}
			pipeline, closePipeline, err := ingest.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closePipeline()
			return api.New(cfg, pipeline, storage.NewMemoryStore(), log).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides GALLERYDROP_ADDRESS)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Redacted())
		},
	}
}
