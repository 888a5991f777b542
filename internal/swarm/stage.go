// Package swarm runs the ordered reasoning stages against one event
// record and owns the event's status state machine.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resilienthike/clinical-swarm/internal/record"
)

// ErrMissingPrecondition is returned when a stage's required upstream
// layer is absent or structurally incomplete. It is fatal to the pipeline:
// the engine never reorders or retries stages to repair it.
var ErrMissingPrecondition = errors.New("missing precondition")

// Stage names, which double as handoff endpoints.
const (
	StageExtraction     = "extraction"
	StageRiskScoring    = "risk_scoring"
	StageRecommendation = "recommendation"
	endOfSwarm          = "end_of_swarm"
)

// Stage is one ordered unit of the pipeline. The runner composes the fixed
// template around it: read record → Derive → Commit → audit → Announce.
// Derive must not mutate the record; all writes go through Commit and
// Announce so a failed derivation leaves no trace beyond the event error.
type Stage interface {
	// Name is the stable identifier used in audit entries and handoffs.
	Name() string
	// Title is the human-readable role recorded alongside the name.
	Title() string
	// Derive reads the shared record and produces this stage's result.
	Derive(ctx context.Context, rec *record.Record) (any, error)
	// Commit writes the result into the stage's layer.
	Commit(ctx context.Context, eventID string, result any) error
	// Announce appends the handoff entry describing the next consumer.
	Announce(ctx context.Context, eventID string, result any, elapsed time.Duration) error
}

func wrongResultType(stage string, result any) error {
	return fmt.Errorf("%s: unexpected result type %T", stage, result)
}

// layerObject digs a nested object out of a layer payload, tolerating both
// in-memory maps and JSON round-tripped ones.
func layerObject(layer map[string]any, key string) (map[string]any, bool) {
	v, ok := layer[key]
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// stringSlice coerces a layer value into []string across the store
// backends ([]string in memory, []any after a JSON round trip).
func stringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
