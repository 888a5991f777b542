package record

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an event record. Transitions are
// monotonic: pending → running → {complete, failed}. The terminal states
// never change again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Layer names, in pipeline order. The engine itself is agnostic to the
// count and names; these are the slots the configured stages write.
const (
	LayerFoundation = "foundation"
	LayerStrategic  = "strategic"
	LayerSynthesis  = "synthesis"
)

// CanTransition reports whether moving from to next is a legal status change.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusComplete || to == StatusFailed
	default:
		return false
	}
}

// AuditEntry records one completed stage execution.
type AuditEntry struct {
	StageName       string    `json:"stage_name"`
	StageTitle      string    `json:"stage_title"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Handoff is a descriptive audit entry naming the next consumer of the
// record. It never drives control flow.
type Handoff struct {
	FromStage string    `json:"from_stage"`
	ToStage   string    `json:"to_stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Record is the shared context document one swarm run accumulates.
type Record struct {
	EventID       string                    `json:"event_id"`
	PatientID     string                    `json:"patient_id"`
	RawReportText string                    `json:"raw_report_text"`
	Status        Status                    `json:"status"`
	Layers        map[string]map[string]any `json:"context_layers"`
	AuditLog      []AuditEntry              `json:"agent_logs"`
	Handoffs      []Handoff                 `json:"agent_handoffs"`
	Error         string                    `json:"error,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	LastUpdate    time.Time                 `json:"last_update"`
}

// New creates a pending record with empty layers and logs.
func New(eventID, patientID, rawReport string) *Record {
	now := time.Now().UTC()
	return &Record{
		EventID:       eventID,
		PatientID:     patientID,
		RawReportText: rawReport,
		Status:        StatusPending,
		Layers: map[string]map[string]any{
			LayerFoundation: {},
			LayerStrategic:  {},
			LayerSynthesis:  {},
		},
		AuditLog:   []AuditEntry{},
		Handoffs:   []Handoff{},
		CreatedAt:  now,
		LastUpdate: now,
	}
}

// Layer returns the named layer payload, or an empty map if unset.
func (r *Record) Layer(name string) map[string]any {
	if r.Layers == nil {
		return map[string]any{}
	}
	l, ok := r.Layers[name]
	if !ok || l == nil {
		return map[string]any{}
	}
	return l
}

// Clone returns a deep copy so callers can never mutate store state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Layers = make(map[string]map[string]any, len(r.Layers))
	for name, payload := range r.Layers {
		cp.Layers[name] = cloneMap(payload)
	}
	cp.AuditLog = make([]AuditEntry, len(r.AuditLog))
	copy(cp.AuditLog, r.AuditLog)
	cp.Handoffs = make([]Handoff, len(r.Handoffs))
	copy(cp.Handoffs, r.Handoffs)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue covers the shapes a layer payload can hold: decoded JSON
// (maps and []any) plus the []string slices stages write directly.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("record(%s status=%s layers=%d audit=%d)", r.EventID, r.Status, len(r.Layers), len(r.AuditLog))
}
