package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
	"github.com/dharsanguruparan/gallerydrop/internal/uploader"
)

type uploadFlags struct {
	photographer string
	location     string
	date         string
	featured     bool
	concurrency  int
}

func newUploadCmd() *cobra.Command {
	var flags uploadFlags
	cmd := &cobra.Command{
		Use:   "upload [files...]",
		Short: "Process and upload image files as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := flags.metadata()
			if err != nil {
				return err
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if flags.concurrency > 0 {
				cfg.Concurrency = flags.concurrency
			}
			files, err := loadFiles(args)
			if err != nil {
				return err
			}
			// Interrupts cancel the batch, not the finalize call that follows.
			ctx := context.WithoutCancel(cmd.Context())
			pipeline, closePipeline, err := ingest.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closePipeline()
			return runUpload(ctx, cmd.Context().Done(), pipeline, meta, files, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.photographer, "photographer", "", "Photographer credited on every file")
	cmd.Flags().StringVar(&flags.location, "location", "", "Location recorded on every file")
	cmd.Flags().StringVar(&flags.date, "date", "", "Date override (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flags.featured, "featured", false, "Mark every file as featured")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Parallel transfers (overrides GALLERYDROP_CONCURRENCY)")
	return cmd
}

func (f uploadFlags) metadata() (model.BatchMetadata, error) {
	date, err := model.ParseDate(f.date)
	if err != nil {
		return model.BatchMetadata{}, err
	}
	return model.BatchMetadata{
		Photographer: f.photographer,
		Location:     f.location,
		Date:         date,
		Featured:     f.featured,
	}, nil
}

// runUpload runs one session. Closing interrupt cancels the batch.
func runUpload(ctx context.Context, interrupt <-chan struct{}, p *ingest.Pipeline, meta model.BatchMetadata, files []model.RawFile, out io.Writer) error {
	session := p.NewSession(meta)
	report, err := session.Add(ctx, files)
	if err != nil {
		return err
	}
	for _, rej := range report.Rejections {
		fmt.Fprintf(out, "rejected  %s: %s (%s)\n", rej.FileName, rej.Reason, rej.Message)
	}
	for _, fail := range report.Failures {
		fmt.Fprintf(out, "skipped   %s: %s\n", fail.FileName, fail.Message)
	}
	if len(report.Accepted) == 0 {
		return errors.New("no file to upload")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-interrupt:
			fmt.Fprintln(out, "cancelling...")
			session.Cancel()
		case <-stop:
		}
	}()

	last := make(map[string]model.ItemStatus)
	result, err := session.Submit(ctx, func(u model.ItemUpdate) {
		// Only status transitions are printed.
		if last[u.Item.ID] == u.Item.Status {
			return
		}
		last[u.Item.ID] = u.Item.Status
		line := fmt.Sprintf("%-9s %s (%s)", u.Item.Status, u.Item.FileName, humanize.IBytes(uint64(u.Item.Size)))
		if u.Item.Error != "" {
			line += ": " + u.Item.Error
		}
		fmt.Fprintln(out, line)
	})
	fmt.Fprintf(out, "batch %s: %d uploaded, %d failed\n", session.ID(), result.SuccessCount, result.FailCount)
	var finErr *uploader.FinalizeError
	if errors.As(err, &finErr) {
		return fmt.Errorf("files uploaded but the catalog was not updated: %w", err)
	}
	if err != nil {
		return err
	}
	if result.FailCount > 0 {
		return fmt.Errorf("%d of %d files failed", result.FailCount, result.SuccessCount+result.FailCount)
	}
	return nil
}

func loadFiles(paths []string) ([]model.RawFile, error) {
	files := make([]model.RawFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		// An empty type is sniffed from the content by the validator.
		files = append(files, model.RawFile{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Data:        data,
		})
	}
	return files, nil
}
