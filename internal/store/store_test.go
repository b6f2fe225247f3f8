package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/concord/internal/models"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{
		db:     sqlx.NewDb(db, "postgres"),
		logger: zaptest.NewLogger(t),
	}, mock
}

func TestSaveRunUpserts(t *testing.T) {
	s, mock := mockStore(t)
	status := &models.RunStatus{
		RunID:      "r1",
		DocumentID: "d1",
		State:      models.RunComplete,
		Strategy:   "parallel",
		Absences: []models.Absence{
			{AgentID: "fiscal-1", Stage: models.RunAnalyzing, Reason: models.AbsenceTimeout},
		},
		TokensSpent: 4200,
		StartedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(status.RunID, status.DocumentID, status.State, status.Strategy,
			status.Partial, status.InterruptedStage, status.Error,
			sqlmock.AnyArg(), status.TokensSpent, status.StartedAt, status.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveRun(context.Background(), status))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunRoundTrip(t *testing.T) {
	s, mock := mockStore(t)
	started := time.Now().Add(-time.Minute)
	updated := time.Now()
	absences, _ := json.Marshal([]models.Absence{
		{AgentID: "economic-1", Stage: models.RunAnalyzing, Reason: models.AbsenceBackendError},
	})

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "document_id", "state", "strategy", "partial", "interrupted_stage",
			"error", "absences", "tokens_spent", "started_at", "updated_at",
		}).AddRow("r1", "d1", "complete", "staged", true, "debating", "", absences, 999, started, updated))

	status, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, status.State)
	assert.Equal(t, "staged", status.Strategy)
	assert.True(t, status.Partial)
	assert.Equal(t, models.RunDebating, status.InterruptedStage)
	require.Len(t, status.Absences, 1)
	assert.Equal(t, "economic-1", status.Absences[0].AgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetReport(t *testing.T) {
	s, mock := mockStore(t)
	report := &models.ConsensusReport{
		RunID:       "r1",
		DocumentID:  "d1",
		GeneratedAt: time.Now(),
		Agreed: []models.AgreedFinding{{
			Finding:           models.Finding{ID: "f1", Category: "deficit_impact", Statement: "adds 100B"},
			Level:             models.ConsensusStrong,
			WeightedAgreement: 0.93,
		}},
		Provenance: []string{"fiscal-1", "economic-1"},
	}
	body, err := json.Marshal(report)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO reports`).
		WithArgs(report.RunID, report.DocumentID, report.Partial,
			report.GeneratedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SaveReport(context.Background(), report))

	mock.ExpectQuery(`SELECT body FROM reports`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))

	got, err := s.GetReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	require.Len(t, got.Agreed, 1)
	assert.Equal(t, "f1", got.Agreed[0].Finding.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEvent(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`INSERT INTO event_logs`).
		WithArgs("r1", uint64(3), "finding.emitted", []byte(`{"x":1}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.LogEvent(context.Background(), "r1", 3, "finding.emitted", []byte(`{"x":1}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.SaveRun(context.Background(), &models.RunStatus{RunID: "r1"}))
	assert.NoError(t, s.SaveReport(context.Background(), &models.ConsensusReport{RunID: "r1"}))
	assert.NoError(t, s.LogEvent(context.Background(), "r1", 0, "x", nil))
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())

	_, err := s.GetRun(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}
