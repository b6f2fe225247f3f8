// Package eval scores the swarm against a labeled document corpus and feeds
// the results back into each agent's historical accuracy. The corpus lives
// in a local SQLite file so evaluation runs need no external services.
package eval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/praxislabs/concord/internal/models"
)

// emaAlpha weights the newest evaluation sample in the accuracy update:
// new = alpha*sample + (1-alpha)*old.
const emaAlpha = 0.2

// ExpectedOutcome is one labeled ground-truth claim about a corpus document.
type ExpectedOutcome struct {
	Category        string           `json:"category"`
	Direction       int              `json:"direction"` // -1 cost, 0 neutral, +1 saving
	Magnitude       models.Magnitude `json:"magnitude"`
	FiscalImpactUSD *float64         `json:"fiscal_impact_usd,omitempty"`
}

// LabeledDocument pairs a document with its expected outcomes.
type LabeledDocument struct {
	ID       string
	Title    string
	Text     string
	Expected []ExpectedOutcome
}

const corpusSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id       TEXT PRIMARY KEY,
    title    TEXT NOT NULL,
    text     TEXT NOT NULL,
    expected TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_accuracy (
    agent_id   TEXT PRIMARY KEY,
    accuracy   REAL NOT NULL,
    samples    INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);`

// Corpus is a labeled evaluation set backed by SQLite.
type Corpus struct {
	db *sqlx.DB
}

// OpenCorpus opens (and if needed initializes) a corpus file.
func OpenCorpus(path string) (*Corpus, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	if _, err := db.Exec(corpusSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init corpus schema: %w", err)
	}
	return &Corpus{db: db}, nil
}

func (c *Corpus) Close() error { return c.db.Close() }

// Add inserts or replaces a labeled document.
func (c *Corpus) Add(ctx context.Context, doc LabeledDocument) error {
	expected, err := json.Marshal(doc.Expected)
	if err != nil {
		return fmt.Errorf("marshal expected outcomes: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, text, expected) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Text, expected)
	if err != nil {
		return fmt.Errorf("add document %s: %w", doc.ID, err)
	}
	return nil
}

// Documents loads the whole corpus, ordered by ID for reproducible runs.
func (c *Corpus) Documents(ctx context.Context) ([]LabeledDocument, error) {
	rows, err := c.db.QueryxContext(ctx,
		`SELECT id, title, text, expected FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []LabeledDocument
	for rows.Next() {
		var (
			d        LabeledDocument
			expected string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Text, &expected); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(expected), &d.Expected); err != nil {
			return nil, fmt.Errorf("unmarshal expected for %s: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Accuracy returns an agent's tracked historical accuracy, or the neutral
// default of 0.5 for an unseen agent.
func (c *Corpus) Accuracy(ctx context.Context, agentID string) (float64, error) {
	var acc float64
	err := c.db.GetContext(ctx, &acc,
		`SELECT accuracy FROM agent_accuracy WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0.5, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get accuracy for %s: %w", agentID, err)
	}
	return acc, nil
}

// UpdateAccuracy folds one evaluation sample (fraction correct in [0,1])
// into the agent's accuracy with an exponential moving average.
func (c *Corpus) UpdateAccuracy(ctx context.Context, agentID string, sample float64) (float64, error) {
	old, err := c.Accuracy(ctx, agentID)
	if err != nil {
		return 0, err
	}
	updated := emaAlpha*sample + (1-emaAlpha)*old
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO agent_accuracy (agent_id, accuracy, samples, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			accuracy = excluded.accuracy,
			samples = samples + 1,
			updated_at = excluded.updated_at`,
		agentID, updated, time.Now())
	if err != nil {
		return 0, fmt.Errorf("update accuracy for %s: %w", agentID, err)
	}
	return updated, nil
}
