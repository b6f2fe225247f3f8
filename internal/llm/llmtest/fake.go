// Package llmtest provides a scripted in-process backend for tests, so
// multi-agent scenarios run deterministically with no network.
package llmtest

import (
	"context"
	"sync"
	"time"

	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/models"
)

// Fake is a scripted llm.Client. Handler receives every request; Delay, if
// set, is applied before responding (cancellable via ctx, so timeout paths
// are testable).
type Fake struct {
	Handler func(req llm.Request) (*llm.Completion, error)
	Delay   time.Duration

	mu    sync.Mutex
	calls []llm.Request
}

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, &llm.TransientError{Op: string(req.Schema), Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &llm.TransientError{Op: string(req.Schema), Err: err}
	}
	if f.Handler == nil {
		return nil, &llm.TransientError{Op: string(req.Schema), Err: context.DeadlineExceeded}
	}
	return f.Handler(req)
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor counts requests with the given schema.
func (f *Fake) CallsFor(schema llm.Schema) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Schema == schema {
			n++
		}
	}
	return n
}

// Analysis builds a valid analysis completion with one finding per payload.
func Analysis(confidence float64, findings ...llm.FindingPayload) *llm.Completion {
	return &llm.Completion{
		Schema: llm.SchemaAnalysis,
		Analysis: &llm.AnalysisPayload{
			Findings:   findings,
			Confidence: confidence,
		},
		TokensUsed: 100,
	}
}

// Finding builds a finding payload with a magnitude estimate.
func Finding(category, statement string, magnitude string, confidence float64, impactUSD float64) llm.FindingPayload {
	impact := impactUSD
	return llm.FindingPayload{
		Category:   category,
		Statement:  statement,
		Magnitude:  models.Magnitude(magnitude),
		Confidence: confidence,
		Horizon:    "medium",
		FiscalImpactUSD: func() *float64 {
			if impactUSD == 0 {
				return nil
			}
			return &impact
		}(),
	}
}

// Critiques builds a valid critiques completion.
func Critiques(entries ...llm.CritiquePayload) *llm.Completion {
	return &llm.Completion{
		Schema:     llm.SchemaCritiques,
		Critiques:  entries,
		TokensUsed: 50,
	}
}

// Rebuttal builds a rebuttal completion, optionally carrying an update.
func Rebuttal(content string, updated *llm.PositionPayload) *llm.Completion {
	return &llm.Completion{
		Schema:     llm.SchemaRebuttal,
		Rebuttal:   &llm.RebuttalPayload{Content: content, UpdatedPosition: updated},
		TokensUsed: 40,
	}
}

// Votes builds a votes completion.
func Votes(entries ...llm.VotePayload) *llm.Completion {
	return &llm.Completion{
		Schema:     llm.SchemaVotes,
		Votes:      entries,
		TokensUsed: 30,
	}
}

// Arbitration builds an arbitration completion.
func Arbitration(ruling string, value, confidence float64) *llm.Completion {
	return &llm.Completion{
		Schema: llm.SchemaArbitration,
		Arbitration: &llm.ArbitrationPayload{
			Ruling:     ruling,
			Value:      value,
			Confidence: confidence,
			Rationale:  ruling,
		},
		TokensUsed: 60,
	}
}
