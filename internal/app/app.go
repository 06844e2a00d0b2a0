package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Brownie44l1/classify-api/internal/classifier"
	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/handlers"
	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/model/tfmodel"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/repository"
	"github.com/Brownie44l1/classify-api/internal/repository/sqlite"
	"github.com/Brownie44l1/classify-api/internal/routes"
)

// runtime is a model backend that holds process-wide resources.
type runtime interface {
	model.Runtime
	Close() error
}

// App holds every long-lived component of the server.
type App struct {
	config     *config.Config
	runtime    runtime
	manager    *model.Manager
	classifier *classifier.Classifier
	db         *sqlite.DB
	records    repository.PredictionRepository
}

// NewApp builds the components described by cfg using the configured
// model backend. The model itself is not loaded; call Load or rely on
// load-on-demand.
func NewApp(cfg *config.Config) (*App, error) {
	rt, err := newRuntime(cfg.Model)
	if err != nil {
		return nil, err
	}

	a, err := NewWithRuntime(cfg, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	a.runtime = rt
	return a, nil
}

func newRuntime(cfg config.ModelConfig) (runtime, error) {
	switch cfg.Backend {
	case config.BackendTensorFlow:
		return tfmodel.New()
	case config.BackendONNX, "":
		return model.NewONNXRuntime(model.ONNXConfig{
			SharedLibraryPath: cfg.SharedLibraryPath,
			IntraOpThreads:    cfg.IntraOpThreads,
		})
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// NewWithRuntime builds the components around an arbitrary model runtime.
func NewWithRuntime(cfg *config.Config, rt model.Runtime) (*App, error) {
	filter, err := preprocess.ParseFilter(cfg.Preprocess.Resample)
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg}

	if cfg.Store.DatabasePath != "" {
		db, err := sqlite.New(cfg.Store.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.records = sqlite.NewPredictionRepository(db)
		logger.Logger.Info("prediction log enabled", "path", cfg.Store.DatabasePath)
	}

	a.manager = model.NewManager(model.ManagerConfig{
		Dir:             cfg.Model.Dir,
		ExpectedVersion: cfg.Model.ExpectedVersion,
		ImageKey:        cfg.Model.ImageInput,
		PoolSize:        cfg.Model.PoolSize,
	}, rt)

	a.classifier = classifier.New(a.manager,
		preprocess.NewDecoder(cfg.Preprocess.Formats),
		preprocess.NewNormalizer(filter),
		classifier.Options{
			ConfidenceKey: cfg.Model.ConfidenceOutput,
			Records:       a.records,
		})

	return a, nil
}

// Classifier returns the request pipeline.
func (a *App) Classifier() *classifier.Classifier {
	return a.classifier
}

// Load loads the model now.
func (a *App) Load() error {
	return a.manager.Load()
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	h := handlers.NewHandler(a.classifier, a.records, a.config.Server.MaxUploadMB<<20)
	return routes.SetupRoutes(h, routes.Options{CORS: a.config.Server.CORS})
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if !a.config.Model.LazyLoad && !a.manager.Loaded() {
		if err := a.manager.Load(); err != nil {
			return fmt.Errorf("failed to load model: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              a.config.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Logger.Info("server starting", "addr", srv.Addr, "model_dir", a.config.Model.Dir)
		logger.Logger.Info("endpoints",
			"GET /hi", "liveness",
			"POST /predict", "multipart field 'image'",
			"POST /predict/tensor", "normalized float array")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := time.Duration(a.config.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// Close unloads the model and releases the runtime and database.
func (a *App) Close() error {
	a.manager.Unload()
	var errs []error
	if a.runtime != nil {
		errs = append(errs, a.runtime.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
