// Package coordinator owns the swarm pipeline: one run per document, moving
// through ingestion, analysis, cross-review, debate, voting and synthesis.
// Runs are independent; each gets its own budget, registry and event stream.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/ingest"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/models"
	"github.com/praxislabs/concord/internal/strategy"
	"github.com/praxislabs/concord/internal/streaming"
)

// Store persists runs and reports. A nil Store disables persistence; the
// pipeline never depends on it.
type Store interface {
	SaveRun(ctx context.Context, status *models.RunStatus) error
	SaveReport(ctx context.Context, report *models.ConsensusReport) error
}

// Request starts one run.
type Request struct {
	Title    string
	Source   string
	Text     string
	Metadata map[string]string
	// Strategy names the execution strategy; empty means parallel.
	Strategy string
	// AgentIDs narrows the roster; empty means every analyst.
	AgentIDs []string
}

// Coordinator manages concurrent runs.
type Coordinator struct {
	client  llm.Client
	streams *streaming.Manager
	store   Store
	logger  *zap.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	mu   sync.RWMutex
	runs map[string]*run
}

type run struct {
	mu     sync.Mutex
	status models.RunStatus
	report *models.ConsensusReport
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *config.Config, client llm.Client, streams *streaming.Manager, store Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		client:  client,
		streams: streams,
		store:   store,
		logger:  logger,
		runs:    make(map[string]*run),
	}
}

// Start validates the request, registers the run and launches the pipeline.
// It returns the run ID immediately; progress flows over the event stream.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	if req.Text == "" {
		return "", fmt.Errorf("document text is required")
	}
	reg, err := c.registry()
	if err != nil {
		return "", err
	}
	roster, err := reg.Select(req.AgentIDs)
	if err != nil {
		return "", err
	}
	if len(roster) == 0 {
		return "", fmt.Errorf("no analysts selected")
	}

	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = "parallel"
	}
	if _, err := strategy.FromName(strategyName); err != nil {
		return "", err
	}
	runID := uuid.New().String()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		status: models.RunStatus{
			RunID:     runID,
			State:     models.RunInitialized,
			Strategy:  strategyName,
			StartedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.runs[runID] = r
	c.mu.Unlock()

	go func() {
		defer cancel()
		defer close(r.done)
		c.execute(runCtx, r, runID, req, reg, roster)
	}()
	return runID, nil
}

// Cancel aborts a running pipeline. Already-terminal runs are untouched.
func (c *Coordinator) Cancel(runID string) error {
	r, ok := c.get(runID)
	if !ok {
		return fmt.Errorf("unknown run %s", runID)
	}
	r.mu.Lock()
	terminal := r.status.State.Terminal()
	r.mu.Unlock()
	if terminal {
		return fmt.Errorf("run %s already %s", runID, r.status.State)
	}
	r.cancel()
	return nil
}

// Status returns a copy of the run's externally visible state.
func (c *Coordinator) Status(runID string) (models.RunStatus, error) {
	r, ok := c.get(runID)
	if !ok {
		return models.RunStatus{}, fmt.Errorf("unknown run %s", runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, nil
}

// Report returns the terminal consensus report, once the run has one.
func (c *Coordinator) Report(runID string) (*models.ConsensusReport, error) {
	r, ok := c.get(runID)
	if !ok {
		return nil, fmt.Errorf("unknown run %s", runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return nil, fmt.Errorf("run %s has no report (state %s)", runID, r.status.State)
	}
	return r.report, nil
}

// Wait blocks until the run finishes or ctx ends. Used by the one-shot CLI
// path and tests.
func (c *Coordinator) Wait(ctx context.Context, runID string) error {
	r, ok := c.get(runID)
	if !ok {
		return fmt.Errorf("unknown run %s", runID)
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateConfig swaps the configuration used by subsequent runs. In-flight
// runs keep the config they started with.
func (c *Coordinator) UpdateConfig(cfg *config.Config) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
}

func (c *Coordinator) config() *config.Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Coordinator) get(runID string) (*run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.runs[runID]
	return r, ok
}

// registry builds a fresh agent roster for one run. Per-run construction
// keeps hot-reloaded rosters from mutating in-flight runs.
func (c *Coordinator) registry() (*agents.Registry, error) {
	cfg := c.config()
	profiles := make([]agents.Profile, 0, len(cfg.Roster))
	for _, p := range cfg.Roster {
		profiles = append(profiles, agents.Profile{
			ID:                  p.ID,
			Specialization:      p.Specialization,
			Priority:            p.Priority,
			Stage:               p.Stage,
			ConfidenceThreshold: p.ConfidenceThreshold,
			HistoricalAccuracy:  p.HistoricalAccuracy,
			Concepts:            p.Concepts,
		})
	}
	return agents.NewRegistry(profiles, c.client, cfg.Pipeline.AgentTimeout, c.logger)
}

// ingestDocument wraps ingest for the pipeline.
func ingestDocument(req Request) (*models.Document, error) {
	return ingest.Ingest(ingest.Input{
		Title:    req.Title,
		Source:   req.Source,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
}
