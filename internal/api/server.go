// Package api exposes the ingest pipeline over HTTP for the gallery UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
	"github.com/dharsanguruparan/gallerydrop/internal/storage"
)

// Server exposes HTTP endpoints for creating and following batches.
type Server struct {
	cfg      *config.Config
	pipeline *ingest.Pipeline
	store    *storage.MemoryStore
	log      logrus.FieldLogger
	engine   *gin.Engine
	server   *http.Server
	once     sync.Once

	// Background submissions run on ctx so shutdown can cancel them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server and its routes.
func New(cfg *config.Config, pipeline *ingest.Pipeline, store *storage.MemoryStore, log logrus.FieldLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.GET("/healthz", s.handleHealth)
	batches := r.Group("/batches")
	batches.GET("", s.handleList)
	batches.POST("", s.handleCreate)
	batches.GET("/:id", s.handleGet)
	batches.POST("/:id/cancel", s.handleCancel)
	batches.DELETE("/:id", s.handleDelete)
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
// Submissions still running at shutdown are cancelled and awaited.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.engine,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Infof("api listening on %s", s.cfg.Address)
	err := s.server.ListenAndServe()
	s.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close cancels background submissions and waits for them to settle.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background submission has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreate(c *gin.Context) {
	limit := s.cfg.MaxFileSize*int64(s.cfg.MaxBatchFiles) + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "expecting multipart form"})
		return
	}
	meta, err := parseMetadata(form.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	headers := form.File["files"]
	switch {
	case len(headers) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	case len(headers) > s.cfg.MaxBatchFiles:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d files per batch", s.cfg.MaxBatchFiles)})
		return
	}
	files := make([]model.RawFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		files = append(files, f)
	}

	session := s.pipeline.NewSession(meta)
	report, err := session.Add(c.Request.Context(), files)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process files"})
		return
	}
	if len(report.Accepted) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "no file was accepted",
			"rejections": report.Rejections,
			"failures":   report.Failures,
		})
		return
	}
	run, err := session.Start(s.logUpdate)
	if err != nil {
		s.log.WithError(err).Error("start batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start batch"})
		return
	}
	id := s.store.Save(session)
	s.submit(id, run)
	c.JSON(http.StatusAccepted, gin.H{
		"id":         id,
		"items":      report.Accepted,
		"rejections": report.Rejections,
		"failures":   report.Failures,
	})
}

// submit runs a batch that session.Start already moved to submitting, so a
// Delete arriving before the goroutine is scheduled answers 409.
func (s *Server) submit(id string, run func(context.Context) (model.BatchResult, error)) {
	log := s.log.WithField("batch", id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := run(s.ctx)
		if ferr := s.store.Finish(id, result, err); ferr != nil {
			log.WithError(ferr).Warn("record batch result")
		}
		if err != nil {
			log.WithError(err).Warn("batch finished with finalize error")
		}
	}()
}

func (s *Server) logUpdate(u model.ItemUpdate) {
	s.log.WithFields(logrus.Fields{
		"batch":    u.BatchID,
		"item":     u.Item.ID,
		"status":   u.Item.Status,
		"progress": u.Item.Progress,
	}).Debug("item update")
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": s.store.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	summary, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleCancel(c *gin.Context) {
	session, err := s.store.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	session.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"id": c.Param("id"), "state": session.State()})
}

func (s *Server) handleDelete(c *gin.Context) {
	err := s.store.Delete(c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
	case errors.Is(err, ingest.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "batch is being submitted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Infof("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func parseMetadata(values map[string][]string) (model.BatchMetadata, error) {
	first := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	meta := model.BatchMetadata{
		Photographer: first("photographer"),
		Location:     first("location"),
	}
	if raw := first("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return meta, fmt.Errorf("invalid featured flag %q", raw)
		}
		meta.Featured = featured
	}
	date, err := model.ParseDate(first("date"))
	if err != nil {
		return meta, err
	}
	meta.Date = date
	return meta, nil
}

func readFile(fh *multipart.FileHeader) (model.RawFile, error) {
	f, err := fh.Open()
	if err != nil {
		return model.RawFile{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return model.RawFile{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return model.RawFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Data:        data,
	}, nil
}
