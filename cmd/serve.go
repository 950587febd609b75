package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/config"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/resilience"
	"github.com/sells-group/takeoff-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the takeoff HTTP API",
	Long:  "Serves synchronous takeoff analysis of uploaded drawing sets plus run history and metrics.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			store:     env.Store,
			analyzer:  env.Pipeline,
			metrics:   env.Metrics.Handler(),
			pipeline:  cfg.Pipeline,
			maxUpload: int64(cfg.Server.MaxUploadMB) << 20,
			tempDir:   cfg.Render.TempDir,
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server error")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port to listen on")
	rootCmd.AddCommand(serveCmd)
}

// analyzer runs one takeoff. *pipeline.Pipeline satisfies it.
type analyzer interface {
	Run(ctx context.Context, path string, tax model.Taxonomy) (*model.Result, error)
}

// apiServer holds the dependencies of the HTTP handlers.
type apiServer struct {
	store     store.Store
	analyzer  analyzer
	metrics   http.Handler
	pipeline  config.PipelineConfig
	maxUpload int64
	tempDir   string
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/topics", s.handleTopics)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

func (s *apiServer) handleTopics(w http.ResponseWriter, _ *http.Request) {
	tax, err := loadTaxonomy(s.pipeline, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tax)
}

func (s *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		writeError(w, http.StatusBadRequest, "file must be a PDF")
		return
	}

	tax, err := loadTaxonomy(s.pipeline, splitTopics(r.FormValue("topics")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dir, err := os.MkdirTemp(s.tempDir, "takeoff-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not stage upload")
		return
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		zap.L().Error("save upload", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not stage upload")
		return
	}

	result, err := s.analyzer.Run(r.Context(), path, tax)
	if err != nil {
		zap.L().Error("analyze failed", zap.String("file", name), zap.Error(err))
		status := http.StatusInternalServerError
		if resilience.IsDocumentReadError(err) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:   model.RunStatus(q.Get("status")),
		Document: q.Get("document"),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := loadRunDetail(r.Context(), s.store, id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create upload file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return eris.Wrap(err, "copy upload")
	}
	return eris.Wrap(dst.Close(), "close upload file")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
