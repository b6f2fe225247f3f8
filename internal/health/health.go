// Package health aggregates liveness and readiness checks for the optional
// dependencies: the database, the Redis mirror and the completion backend.
// The swarm itself has no hard dependencies, so liveness is always OK; a
// failing check only degrades readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is one checker's result.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Manager runs registered checks on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{timeout: 3 * time.Second, logger: logger}
}

// Register adds a checker. Nil checkers are ignored so optional deps can be
// passed through unconditionally.
func (m *Manager) Register(c Checker) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

type result struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Check runs every checker and reports per-dependency results.
func (m *Manager) Check(ctx context.Context) (bool, map[string]result) {
	m.mu.RLock()
	checkers := m.checkers
	m.mu.RUnlock()

	ready := true
	results := make(map[string]result, len(checkers))
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			ready = false
			results[c.Name()] = result{Status: StatusUnhealthy, Error: err.Error()}
			m.logger.Warn("Health check failed", zap.String("check", c.Name()), zap.Error(err))
			continue
		}
		results[c.Name()] = result{Status: StatusHealthy}
	}
	return ready, results
}

// RegisterRoutes installs /health (liveness) and /ready (readiness).
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]Status{"status": StatusHealthy})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ready, results := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":  ready,
			"checks": results,
		})
	})
}
