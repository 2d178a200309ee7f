package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upscaled/internal/upscaler"
	"upscaled/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Process(ctx context.Context, payload []byte, modelID, format string) (upscaler.Result, error)
	Ready() bool
}

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when the
// handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// The upload form is served from a separate origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Log-Level"},
		MaxAge:         300,
	}))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Models godoc
	// @Summary List available models
	// @Produce json
	// @Success 200 {object} types.ModelsResponse
	// @Router /models [get]
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.ListModels()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	// Status godoc
	// @Summary Engine cache status
	// @Produce json
	// @Success 200 {object} types.StatusResponse
	// @Router /status [get]
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	// Upscale godoc
	// @Summary Upscale an image 4x
	// @Accept mpfd
	// @Produce png
	// @Param image formData file true "Input image (png, jpeg or webp)"
	// @Param model formData string false "Model id"
	// @Param format formData string false "Output format (png, jpeg, webp)"
	// @Success 200 {file} binary
	// @Failure 400 {object} types.ErrorResponse
	// @Failure 404 {object} types.ErrorResponse
	// @Failure 500 {object} types.ErrorResponse
	// @Router /upscale [post]
	r.Post("/upscale", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "multipart/form-data") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		// Any spooled upload parts are request-local; remove them before
		// the handler returns regardless of outcome.
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, _, err := r.FormFile("image")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "image file is required")
			return
		}
		payload, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unreadable image upload")
			return
		}

		modelID := r.FormValue("model")
		format := r.FormValue("format")

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			logEvent(r, "upscale start").Str("model", modelID).Str("format", format).Int("bytes", len(payload)).Send()
		}

		// Join server base context with request context so shutdown cancels
		// work too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Process(joinedCtx, payload, modelID, format)
		if err != nil {
			// Client disconnect or shutdown: nothing useful to write.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForError(err)
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				logEvent(r, "upscale end").Int("status", status).Dur("dur", time.Since(start)).Err(err).Send()
			}
			return
		}

		w.Header().Set("Content-Type", res.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)
		if lvl >= LevelInfo {
			logEvent(r, "upscale end").Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("bytes", len(res.Data)).Send()
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// statusForError maps taxonomy members to HTTP status codes. Anything that
// reaches this point is already sanitized by the controller.
func statusForError(err error) int {
	switch {
	case upscaler.IsInvalidInput(err):
		return http.StatusBadRequest
	case upscaler.IsModelNotFound(err):
		return http.StatusNotFound
	case upscaler.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		// DeviceExhausted and ProcessingFailed both surface the generic way.
		return http.StatusInternalServerError
	}
}
