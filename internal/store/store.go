// Package store persists runs, reports and event logs to Postgres. The
// store is optional infrastructure: a nil *Store is valid everywhere and
// every method on it is a no-op, so the pipeline runs headless without a
// database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/models"
)

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to Postgres per config. Disabled config returns
// (nil, nil): the caller keeps the nil and persistence is off.
func NewStore(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// SaveRun upserts the run's externally visible status.
func (s *Store) SaveRun(ctx context.Context, status *models.RunStatus) error {
	if s == nil || s.db == nil || status == nil {
		return nil
	}
	absences, err := json.Marshal(status.Absences)
	if err != nil {
		return fmt.Errorf("marshal absences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, document_id, state, strategy, partial, interrupted_stage,
		                  error, absences, tokens_spent, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			state = EXCLUDED.state,
			partial = EXCLUDED.partial,
			interrupted_stage = EXCLUDED.interrupted_stage,
			error = EXCLUDED.error,
			absences = EXCLUDED.absences,
			tokens_spent = EXCLUDED.tokens_spent,
			updated_at = EXCLUDED.updated_at`,
		status.RunID, status.DocumentID, status.State, status.Strategy,
		status.Partial, status.InterruptedStage, status.Error,
		absences, status.TokensSpent, status.StartedAt, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", status.RunID, err)
	}
	return nil
}

// GetRun loads one run's status.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.RunStatus, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotFound
	}
	var row struct {
		ID               string         `db:"id"`
		DocumentID       sql.NullString `db:"document_id"`
		State            string         `db:"state"`
		Strategy         string         `db:"strategy"`
		Partial          bool           `db:"partial"`
		InterruptedStage sql.NullString `db:"interrupted_stage"`
		Error            sql.NullString `db:"error"`
		Absences         []byte         `db:"absences"`
		TokensSpent      int            `db:"tokens_spent"`
		StartedAt        time.Time      `db:"started_at"`
		UpdatedAt        time.Time      `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, document_id, state, strategy, partial, interrupted_stage,
		       error, absences, tokens_spent, started_at, updated_at
		FROM runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	status := &models.RunStatus{
		RunID:            row.ID,
		DocumentID:       row.DocumentID.String,
		State:            models.RunState(row.State),
		Strategy:         row.Strategy,
		Partial:          row.Partial,
		InterruptedStage: models.RunState(row.InterruptedStage.String),
		Error:            row.Error.String,
		TokensSpent:      row.TokensSpent,
		StartedAt:        row.StartedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if len(row.Absences) > 0 {
		if err := json.Unmarshal(row.Absences, &status.Absences); err != nil {
			return nil, fmt.Errorf("unmarshal absences for %s: %w", runID, err)
		}
	}
	return status, nil
}

// SaveReport stores the terminal report as one jsonb document.
func (s *Store) SaveReport(ctx context.Context, report *models.ConsensusReport) error {
	if s == nil || s.db == nil || report == nil {
		return nil
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (run_id, document_id, partial, generated_at, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, report.DocumentID, report.Partial, report.GeneratedAt, body,
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", report.RunID, err)
	}
	return nil
}

// GetReport loads a run's terminal report.
func (s *Store) GetReport(ctx context.Context, runID string) (*models.ConsensusReport, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotFound
	}
	var body []byte
	err := s.db.GetContext(ctx, &body, `SELECT body FROM reports WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", runID, err)
	}
	var report models.ConsensusReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report %s: %w", runID, err)
	}
	return &report, nil
}

// LogEvent appends one streaming event to the durable event log.
func (s *Store) LogEvent(ctx context.Context, runID string, seq uint64, evtType string, payload []byte) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_logs (run_id, seq, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, seq) DO NOTHING`,
		runID, seq, evtType, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("log event %s/%d: %w", runID, seq, err)
	}
	return nil
}

// ErrNotFound is returned for missing runs and reports.
var ErrNotFound = errors.New("not found")
