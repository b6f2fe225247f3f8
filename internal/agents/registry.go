package agents

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/models"
)

// Registry holds one run's agent roster in priority order.
type Registry struct {
	byID  map[string]Agent
	order []string
}

// NewRegistry builds agents from profiles. Exactly zero or one judge is
// allowed per roster.
func NewRegistry(profiles []Profile, client llm.Client, timeout time.Duration, logger *zap.Logger) (*Registry, error) {
	r := &Registry{byID: make(map[string]Agent, len(profiles))}
	judges := 0
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("agent profile missing id")
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", p.ID)
		}
		if p.Specialization == models.SpecJudge {
			judges++
			if judges > 1 {
				return nil, fmt.Errorf("roster has more than one judge")
			}
		}
		r.byID[p.ID] = New(p, client, timeout, logger)
		r.order = append(r.order, p.ID)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.byID[r.order[i]].Priority() < r.byID[r.order[j]].Priority()
	})
	return r, nil
}

// Get returns the agent with the given ID.
func (r *Registry) Get(id string) (Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Analysts returns every non-judge agent in priority order.
func (r *Registry) Analysts() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		if a := r.byID[id]; !a.CanArbitrate() {
			out = append(out, a)
		}
	}
	return out
}

// Judge returns the roster's arbitration judge, if any.
func (r *Registry) Judge() (Agent, bool) {
	for _, id := range r.order {
		if a := r.byID[id]; a.CanArbitrate() {
			return a, true
		}
	}
	return nil, false
}

// Select resolves the requested agent IDs, preserving priority order. An
// empty request selects every analyst.
func (r *Registry) Select(ids []string) ([]Agent, error) {
	if len(ids) == 0 {
		return r.Analysts(), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("unknown agent %q", id)
		}
		want[id] = true
	}
	out := make([]Agent, 0, len(want))
	for _, id := range r.order {
		if want[id] && !r.byID[id].CanArbitrate() {
			out = append(out, r.byID[id])
		}
	}
	return out, nil
}
