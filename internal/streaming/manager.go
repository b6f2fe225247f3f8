package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/praxislabs/concord/internal/metrics"
)

// Event types emitted over a run's stream, in delivery order per run.
const (
	TypeRunStarted        = "run.started"
	TypeStageChanged      = "stage.changed"
	TypeAgentStarted      = "agent.started"
	TypeAgentThought      = "agent.thought"
	TypeAgentCompleted    = "agent.completed"
	TypeAgentFailed       = "agent.failed"
	TypeFinding           = "finding.emitted"
	TypeDebateOpened      = "debate.opened"
	TypeDebateRound       = "debate.round"
	TypeDebateCritique    = "debate.critique"
	TypeDebateRebuttal    = "debate.rebuttal"
	TypeDebateConvergence = "debate.convergence"
	TypeDebateClosed      = "debate.closed"
	TypeVoteCast          = "vote.cast"
	TypeRunCompleted      = "run.completed"
	TypeRunPartial        = "run.partial"
	TypeRunError          = "run.error"
)

// Event is one entry in a run's ordered progress stream.
type Event struct {
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Topic     string                 `json:"topic,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events with a bounded per-run
// replay buffer. Delivery to connected subscribers is ordered per run;
// delivery to slow or disconnected subscribers is best-effort.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	mirrors     []Mirror
}

// Mirror receives every published event, after history assignment. Used for
// Redis Streams and database event logs. Must not block.
type Mirror interface {
	Publish(runID string, evt Event)
}

const defaultCapacity = 256

// NewManager creates a streaming manager with the given replay capacity per
// run (<=0 means the default of 256).
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// AddMirror attaches a best-effort event mirror.
func (m *Manager) AddMirror(mir Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors = append(m.mirrors, mir)
}

// Subscribe adds a subscriber channel for a run; the caller must drain the
// channel and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the next sequence number for the run and fans the event
// out to subscribers and mirrors. Never blocks: slow subscribers drop.
func (m *Manager) Publish(runID string, evt Event) {
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[runID]
	mirrors := m.mirrors
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	for _, mir := range mirrors {
		mir.Publish(runID, evt)
	}
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[runID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop releases the history and subscribers of a finished run.
func (m *Manager) Drop(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers[runID] {
		close(ch)
	}
	delete(m.subscribers, runID)
	delete(m.history, runID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
