package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/resilienthike/clinical-swarm/internal/reasoning"
	"github.com/resilienthike/clinical-swarm/internal/record"
)

const recommendationPrompt = `You are a clinical protocol meta-reasoner.
Your job is to generate a final, auditable action based on the analysis.

PROTOCOL RULES:
%s

ANALYSIS (from previous stages):
- Patient Event: %s
- Risk Analysis: %s

Your Task:
1. Check if the risk score (>= 0.8) or symptoms (e.g., 'confusion') trigger a protocol rule.
2. Generate a clear 'recommended_action' (e.g., "MONITOR", "ESCALATE").
3. Provide brief 'reasoning' for your action, referencing the data.

Format your response as a single, valid JSON object:
{
  "recommended_action": "ESCALATE: Immediate protocol review.",
  "reasoning": "Risk score 0.9 and symptoms 'confusion' match 'unstable major depressive disorder' exclusion criteria.",
  "audit_trail": "risk_scoring -> recommendation"
}

Respond ONLY with valid JSON.`

// RecommendationResult is the synthesis-layer verdict.
type RecommendationResult struct {
	RecommendedAction string `json:"recommended_action"`
	Reasoning         string `json:"reasoning"`
	AuditTrail        string `json:"audit_trail"`
}

// RecommendationStage folds the accumulated context and the protocol
// exclusion rules into a final auditable action. The rule set is swappable
// at runtime (config hot reload) without touching in-flight runs.
type RecommendationStage struct {
	store record.Store
	llm   reasoning.Client
	log   *slog.Logger
	rules atomic.Pointer[[]string]
}

// NewRecommendationStage wires the recommendation stage with the initial
// protocol rule set.
func NewRecommendationStage(store record.Store, llm reasoning.Client, rules []string, log *slog.Logger) *RecommendationStage {
	s := &RecommendationStage{store: store, llm: llm, log: log}
	s.SwapRules(rules)
	return s
}

// SwapRules atomically replaces the protocol rule set.
func (s *RecommendationStage) SwapRules(rules []string) {
	snapshot := append([]string(nil), rules...)
	s.rules.Store(&snapshot)
}

func (s *RecommendationStage) Name() string  { return StageRecommendation }
func (s *RecommendationStage) Title() string { return "Clinical Protocol Specialist" }

func (s *RecommendationStage) Derive(ctx context.Context, rec *record.Record) (any, error) {
	strategic := rec.Layer(record.LayerStrategic)
	if _, ok := strategic["risk_score"]; !ok {
		return nil, fmt.Errorf("%w: no risk score in strategic layer, risk scoring must run first", ErrMissingPrecondition)
	}

	foundationJSON, err := json.Marshal(rec.Layer(record.LayerFoundation)["structured_data"])
	if err != nil {
		return nil, err
	}
	strategicJSON, err := json.Marshal(strategic)
	if err != nil {
		return nil, err
	}
	rules := *s.rules.Load()
	prompt := fmt.Sprintf(recommendationPrompt, strings.Join(rules, "\n"), foundationJSON, strategicJSON)

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning call: %w", err)
	}

	obj, err := reasoning.ParseObject(text)
	if err != nil {
		return nil, err
	}
	if err := reasoning.RequireKeys(obj, "recommended_action", "reasoning", "audit_trail"); err != nil {
		return nil, err
	}

	var result RecommendationResult
	if err := unmarshalFields(obj, map[string]any{
		"recommended_action": &result.RecommendedAction,
		"reasoning":          &result.Reasoning,
		"audit_trail":        &result.AuditTrail,
	}); err != nil {
		return nil, err
	}

	s.log.Info("final action generated", "event", rec.EventID, "action", result.RecommendedAction)
	return &result, nil
}

func (s *RecommendationStage) Commit(ctx context.Context, eventID string, result any) error {
	res, ok := result.(*RecommendationResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	payload := map[string]any{
		"recommended_action": res.RecommendedAction,
		"reasoning":          res.Reasoning,
		"audit_trail":        res.AuditTrail,
		"synthesis_complete": true,
	}
	if err := s.store.SetLayer(ctx, eventID, record.LayerSynthesis, payload); err != nil {
		return fmt.Errorf("persist synthesis layer: %w", err)
	}
	return nil
}

func (s *RecommendationStage) Announce(ctx context.Context, eventID string, result any, _ time.Duration) error {
	res, ok := result.(*RecommendationResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	return s.store.AppendHandoff(ctx, eventID, record.Handoff{
		FromStage: s.Name(),
		ToStage:   endOfSwarm,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("Synthesis complete: final action generated. (%s)", res.RecommendedAction),
	})
}
