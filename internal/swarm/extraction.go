package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/resilienthike/clinical-swarm/internal/reasoning"
	"github.com/resilienthike/clinical-swarm/internal/record"
)

const extractionPrompt = `You are an expert at clinical data extraction.
Extract all structured data from the following adverse event report.
Report: %q

Format your response as a single, valid JSON object:
{
  "patient_id": "string",
  "symptoms": ["list", "of", "symptoms"],
  "is_serious": "boolean, true if life-threatening"
}

Respond ONLY with valid JSON.`

// ExtractionResult is the structured reading of the raw report.
type ExtractionResult struct {
	PatientID string   `json:"patient_id"`
	Symptoms  []string `json:"symptoms"`
	IsSerious bool     `json:"is_serious"`
}

// ExtractionStage turns the raw report text into the foundation layer.
type ExtractionStage struct {
	store record.Store
	llm   reasoning.Client
	log   *slog.Logger
}

// NewExtractionStage wires the extraction stage.
func NewExtractionStage(store record.Store, llm reasoning.Client, log *slog.Logger) *ExtractionStage {
	return &ExtractionStage{store: store, llm: llm, log: log}
}

func (s *ExtractionStage) Name() string  { return StageExtraction }
func (s *ExtractionStage) Title() string { return "Data Extraction Specialist" }

func (s *ExtractionStage) Derive(ctx context.Context, rec *record.Record) (any, error) {
	prompt := fmt.Sprintf(extractionPrompt, rec.RawReportText)
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning call: %w", err)
	}

	obj, err := reasoning.ParseObject(text)
	if err != nil {
		return nil, err
	}
	if err := reasoning.RequireKeys(obj, "patient_id", "symptoms", "is_serious"); err != nil {
		return nil, err
	}

	var result ExtractionResult
	if err := unmarshalFields(obj, map[string]any{
		"patient_id": &result.PatientID,
		"symptoms":   &result.Symptoms,
		"is_serious": &result.IsSerious,
	}); err != nil {
		return nil, err
	}

	s.log.Info("structured data extracted", "event", rec.EventID, "symptoms", len(result.Symptoms))
	return &result, nil
}

func (s *ExtractionStage) Commit(ctx context.Context, eventID string, result any) error {
	res, ok := result.(*ExtractionResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	payload := map[string]any{
		"structured_data": map[string]any{
			"patient_id": res.PatientID,
			"symptoms":   res.Symptoms,
			"is_serious": res.IsSerious,
		},
		"extraction_complete": true,
	}
	if err := s.store.SetLayer(ctx, eventID, record.LayerFoundation, payload); err != nil {
		return fmt.Errorf("persist foundation layer: %w", err)
	}
	return nil
}

func (s *ExtractionStage) Announce(ctx context.Context, eventID string, result any, _ time.Duration) error {
	res, ok := result.(*ExtractionResult)
	if !ok {
		return wrongResultType(s.Name(), result)
	}
	return s.store.AppendHandoff(ctx, eventID, record.Handoff{
		FromStage: s.Name(),
		ToStage:   StageRiskScoring,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("Foundation layer complete: extracted %d symptoms.", len(res.Symptoms)),
	})
}

// unmarshalFields decodes each named raw field into its destination,
// converting decode failures into the malformed-output error class.
func unmarshalFields(obj map[string]json.RawMessage, fields map[string]any) error {
	for key, dst := range fields {
		if err := json.Unmarshal(obj[key], dst); err != nil {
			return fmt.Errorf("%w: field %q: %v", reasoning.ErrMalformedOutput, key, err)
		}
	}
	return nil
}
