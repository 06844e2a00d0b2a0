package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Brownie44l1/classify-api/internal/handlers"
	"github.com/Brownie44l1/classify-api/internal/logger"
)

// Options toggles optional middleware.
type Options struct {
	CORS bool
}

// SetupRoutes registers the HTTP API on a chi router.
func SetupRoutes(h *handlers.Handler, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.CORS {
		r.Use(enableCORS)
	}

	r.Get("/hi", h.Hi)
	r.Get("/health", h.Health)
	r.Get("/signature", h.Signature)
	r.Post("/predict", h.Predict)
	r.Post("/predict/tensor", h.PredictTensor)
	r.Get("/predictions/recent", h.RecentPredictions)
	r.Post("/admin/reload", h.Reload)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"elapsed", time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}
