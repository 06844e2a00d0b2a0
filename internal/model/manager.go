package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Brownie44l1/classify-api/internal/logger"
)

// ManagerConfig describes where the model lives and how many sessions to open.
type ManagerConfig struct {
	Dir             string
	ExpectedVersion int
	ImageKey        string
	PoolSize        int
}

// Manager owns the single active model: its signature and session pool.
// Loading a model releases the previous one first. Unload waits for
// in-flight runs to return their sessions.
type Manager struct {
	cfg     ManagerConfig
	runtime Runtime

	mu   sync.RWMutex
	sig  *Signature
	pool *Pool
}

// NewManager returns an unloaded manager.
func NewManager(cfg ManagerConfig, rt Runtime) *Manager {
	if cfg.ImageKey == "" {
		cfg.ImageKey = DefaultImageKey
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Manager{cfg: cfg, runtime: rt}
}

// Load reads the signature and opens the session pool, replacing any loaded model.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

// Reload loads the model again and returns the signature it loaded.
func (m *Manager) Reload() (*Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(); err != nil {
		return nil, err
	}
	return m.sig, nil
}

func (m *Manager) loadLocked() error {
	m.unloadLocked()

	start := time.Now()
	sig, err := LoadSignature(m.cfg.Dir, m.cfg.ExpectedVersion)
	if err != nil {
		return err
	}
	sig = sig.WithImageKey(m.cfg.ImageKey)
	if _, err := sig.ImageInput(); err != nil {
		return err
	}

	pool, err := NewPool(m.runtime, sig, m.cfg.PoolSize)
	if err != nil {
		return err
	}

	m.sig = sig
	m.pool = pool
	logger.Logger.Info("model loaded",
		"path", sig.ModelPath,
		"tags", sig.Tags,
		"classes", len(sig.Classes.Label),
		"sessions", pool.Size(),
		"elapsed", time.Since(start))
	return nil
}

// Unload releases the active model. It is a no-op when nothing is loaded.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadLocked()
}

func (m *Manager) unloadLocked() {
	if m.pool == nil {
		return
	}
	if err := m.pool.Close(); err != nil {
		logger.Logger.Warn("failed to release model sessions", "error", err)
	}
	logger.Logger.Info("model unloaded", "path", m.sig.ModelPath)
	m.pool = nil
	m.sig = nil
}

// Loaded reports whether a model is active.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool != nil
}

// Signature returns the active signature, or nil when unloaded.
func (m *Manager) Signature() *Signature {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sig
}

// Ensure loads the model if it is not loaded and returns its signature.
func (m *Manager) Ensure() (*Signature, error) {
	m.mu.RLock()
	sig := m.sig
	m.mu.RUnlock()
	if sig != nil {
		return sig, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sig == nil {
		logger.Logger.Info("model not loaded, loading on demand", "dir", m.cfg.Dir)
		if err := m.loadLocked(); err != nil {
			return nil, err
		}
	}
	return m.sig, nil
}

// InputFunc builds the image tensor for the signature a run will use.
type InputFunc func(sig *Signature) (*Tensor, error)

// Input feeds t unchanged to whichever model is active.
func Input(t *Tensor) InputFunc {
	return func(*Signature) (*Tensor, error) {
		return t, nil
	}
}

// maxPrepareAttempts bounds how often Run rebuilds its input when the
// model is replaced while the input is being prepared.
const maxPrepareAttempts = 5

// Run builds the input with prepare, feeds it to the image input of the
// active model and fetches the requested logical outputs (all outputs when
// outputKeys is empty). The model is loaded on demand if needed. prepare
// runs without holding the manager lock; if another model becomes active
// before the run starts, prepare is called again for the new signature.
func (m *Manager) Run(ctx context.Context, prepare InputFunc, outputKeys []string) (*Signature, []Fetch, error) {
	for attempt := 0; attempt < maxPrepareAttempts; attempt++ {
		sig, err := m.Ensure()
		if err != nil {
			return nil, nil, err
		}
		input, err := prepare(sig)
		if err != nil {
			return nil, nil, err
		}

		m.mu.RLock()
		if m.sig != sig {
			// reloaded or unloaded while the input was prepared
			m.mu.RUnlock()
			logger.Logger.Debug("model replaced during preprocessing, preparing again", "attempt", attempt+1)
			continue
		}
		fetches, err := m.runLocked(ctx, sig, input, outputKeys)
		m.mu.RUnlock()
		if err != nil {
			return nil, nil, err
		}
		return sig, fetches, nil
	}
	return nil, nil, fmt.Errorf("%w: model replaced %d times while preparing input", ErrModelLoad, maxPrepareAttempts)
}

func (m *Manager) runLocked(ctx context.Context, sig *Signature, input *Tensor, outputKeys []string) ([]Fetch, error) {
	if err := sig.CheckInput(input); err != nil {
		return nil, err
	}
	if len(outputKeys) == 0 {
		outputKeys = sig.OutputKeys()
	}

	session, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire model session: %w", err)
	}
	defer m.pool.Release(session)

	outputs, err := session.Run(input, outputKeys)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(outputs) != len(outputKeys) {
		return nil, fmt.Errorf("inference returned %d outputs for %d requested", len(outputs), len(outputKeys))
	}

	fetches := make([]Fetch, len(outputKeys))
	for i, key := range outputKeys {
		fetches[i] = Fetch{Key: key, Tensor: outputs[i]}
	}
	return fetches, nil
}
