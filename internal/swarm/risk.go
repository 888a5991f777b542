package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/resilienthike/clinical-swarm/internal/knowledge"
	"github.com/resilienthike/clinical-swarm/internal/reasoning"
	"github.com/resilienthike/clinical-swarm/internal/record"
)

const riskPrompt = `You are a clinical risk analysis specialist. A new adverse event report has been extracted.

New Event Data:
%s

Your Knowledge Base (compiled from %d clinical trials):
- Known SERIOUS Adverse Events: %s
- Known OTHER Adverse Events: %s

Your task:
1. Analyze the "New Event Data" against your "Knowledge Base".
2. Check for direct correlations (e.g., "headache" is a known "Other Event").
3. Check for "emergent clusters" (e.g., "confusion" and "loss of balance" are not listed, but they are primary symptoms of "Cerebral infarction," which IS a known "Serious Event").
4. Generate a risk score (0.0 - 1.0).
5. Provide clear reasoning.

Format your response as a single, valid JSON object:
{
  "risk_score": 0.85,
  "correlation_reason": "Symptom 'confusion' is not listed but is highly correlated with known Serious Event 'Cerebral infarction'.",
  "emergent_cluster_id": "cluster_004_stroke"
}

Respond ONLY with valid JSON.`

// RiskResult is the strategic-layer verdict. The engine passes risk_score
// through unvalidated; the 0.0–1.0 range is a prompt instruction only.
type RiskResult struct {
	RiskScore         float64 `json:"risk_score"`
	CorrelationReason string  `json:"correlation_reason"`
	EmergentClusterID string  `json:"emergent_cluster_id"`
}

// RiskScoringStage correlates the extracted symptoms against the reference
// knowledge base and writes the strategic layer.
type RiskScoringStage struct {
	store record.Store
	llm   reasoning.Client
	kb    *knowledge.Base
	log   *slog.Logger
}

// NewRiskScoringStage wires the risk-scoring stage. kb is immutable after
// startup and may be shared across any number of concurrent runs.
func NewRiskScoringStage(store record.Store, llm reasoning.Client, kb *knowledge.Base, log *slog.Logger) *RiskScoringStage {
	return &RiskScoringStage{store: store, llm: llm, kb: kb, log: log}
}

func (s *RiskScoringStage) Name() string  { return StageRiskScoring }
func (s *RiskScoringStage) Title() string { return "Clinical Risk Specialist" }

func (s *RiskScoringStage) Derive(ctx context.Context, rec *record.Record) (any, error) {
	structured, ok := layerObject(rec.Layer(record.LayerFoundation), "structured_data")
	if !ok {
		return nil, fmt.Errorf("%w: no structured data in foundation layer, extraction must run first", ErrMissingPrecondition)
	}
	if _, ok := stringSlice(structured["symptoms"]); !ok {
		return nil, fmt.Errorf("%w: no symptoms in foundation layer, extraction must run first", ErrMissingPrecondition)
	}

	eventJSON, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(riskPrompt, eventJSON, s.kb.TotalSources,
		strings.Join(s.kb.SeriousEvents, ", "), strings.Join(s.kb.OtherEvents, ", "))

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning call: %w", err)
	}

	obj, err := reasoning.ParseObject(text)
	if err != nil {
		return nil, err
	}
	if err := reasoning.RequireKeys(obj, "risk_score", "correlation_reason", "emergent_cluster_id"); err != nil {
		return nil, err
	}

	var result RiskResult
	if err := unmarshalFields(obj, map[string]any{
		"risk_score":          &result.RiskScore,
		"correlation_reason":  &result.CorrelationReason,
		"emergent_cluster_id": &result.EmergentClusterID,
	}); err != nil {
		return nil, err
	}

	s.log.Info("event risk analyzed", "event", rec.EventID, "risk_score", result.RiskScore)
	return &result, nil
}

func (s *RiskScoringStage) Commit(ctx context.Context, eventID string, result any) error {
	res, ok := result.(*RiskResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	payload := map[string]any{
		"risk_score":          res.RiskScore,
		"correlation_reason":  res.CorrelationReason,
		"emergent_cluster_id": res.EmergentClusterID,
		"analysis_complete":   true,
	}
	if err := s.store.SetLayer(ctx, eventID, record.LayerStrategic, payload); err != nil {
		return fmt.Errorf("persist strategic layer: %w", err)
	}
	return nil
}

func (s *RiskScoringStage) Announce(ctx context.Context, eventID string, result any, _ time.Duration) error {
	res, ok := result.(*RiskResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	return s.store.AppendHandoff(ctx, eventID, record.Handoff{
		FromStage: s.Name(),
		ToStage:   StageRecommendation,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("Strategic layer complete: event analyzed with risk score %.2f.", res.RiskScore),
	})
}
