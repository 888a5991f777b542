package swarm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/resilienthike/clinical-swarm/internal/knowledge"
	"github.com/resilienthike/clinical-swarm/internal/reasoning"
	"github.com/resilienthike/clinical-swarm/internal/record"
	"github.com/resilienthike/clinical-swarm/internal/swarm"
)

// scriptedClient returns its responses in call order, regardless of prompt.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Generate(_ context.Context, _ string) (string, error) {
	if c.calls >= len(c.responses) {
		return "", errors.New("scripted client exhausted")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKnowledge() *knowledge.Base {
	return &knowledge.Base{
		TotalSources:  2,
		LoadedSources: 2,
		SeriousEvents: []string{"Acute pancreatitis", "Cerebral infarction"},
		OtherEvents:   []string{"Headache", "Nausea"},
	}
}

func testRules() []string {
	return []string{"Exclusion: History of pancreatitis"}
}

func fullPipeline(store record.Store, llm reasoning.Client) *swarm.Runner {
	log := testLogger()
	stages := []swarm.Stage{
		swarm.NewExtractionStage(store, llm, log),
		swarm.NewRiskScoringStage(store, llm, testKnowledge(), log),
		swarm.NewRecommendationStage(store, llm, testRules(), log),
	}
	return swarm.NewRunner(store, stages, log)
}

func submit(t *testing.T, store record.Store, eventID string) {
	t.Helper()
	rec := record.New(eventID, "1109", "Patient reports headache, confusion, loss of balance.")
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestRunnerCompletesAllStages(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	runner := fullPipeline(store, reasoning.NewCannedClient())
	submit(t, store, "e1")

	if err := runner.Run(ctx, "e1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != record.StatusComplete {
		t.Fatalf("status = %s, want complete", rec.Status)
	}
	if rec.Error != "" {
		t.Fatalf("error = %q, want empty", rec.Error)
	}

	sd, ok := rec.Layer(record.LayerFoundation)["structured_data"].(map[string]any)
	if !ok {
		t.Fatalf("foundation layer = %v", rec.Layer(record.LayerFoundation))
	}
	symptoms, _ := sd["symptoms"].([]string)
	want := []string{"headache", "confusion", "loss of balance"}
	if strings.Join(symptoms, "|") != strings.Join(want, "|") {
		t.Fatalf("symptoms = %v, want %v", symptoms, want)
	}

	if score := rec.Layer(record.LayerStrategic)["risk_score"]; score != 0.9 {
		t.Fatalf("risk_score = %v, want 0.9", score)
	}
	if action := rec.Layer(record.LayerSynthesis)["recommended_action"]; action != "ESCALATE: Immediate protocol review." {
		t.Fatalf("recommended_action = %v", action)
	}

	if len(rec.AuditLog) != 3 {
		t.Fatalf("audit log length = %d, want 3", len(rec.AuditLog))
	}
	order := []string{swarm.StageExtraction, swarm.StageRiskScoring, swarm.StageRecommendation}
	for i, entry := range rec.AuditLog {
		if entry.StageName != order[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, entry.StageName, order[i])
		}
		if entry.DurationSeconds < 0 {
			t.Fatalf("audit[%d] has negative duration", i)
		}
	}

	if len(rec.Handoffs) != 3 {
		t.Fatalf("handoffs = %d, want 3", len(rec.Handoffs))
	}
	if last := rec.Handoffs[2]; last.ToStage != "end_of_swarm" {
		t.Fatalf("final handoff targets %s", last.ToStage)
	}
}

func TestRunnerFailsWhenExtractionOutputHasNoJSON(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	llm := &scriptedClient{responses: []string{"I am sorry, I cannot help with that."}}
	runner := fullPipeline(store, llm)
	submit(t, store, "e1")

	err := runner.Run(ctx, "e1")
	if !errors.Is(err, reasoning.ErrMalformedOutput) {
		t.Fatalf("run error = %v, want ErrMalformedOutput", err)
	}

	rec, gerr := store.Get(ctx, "e1")
	if gerr != nil {
		t.Fatal(gerr)
	}
	if rec.Status != record.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "malformed upstream output") {
		t.Fatalf("error = %q, want mention of malformed output", rec.Error)
	}
	if len(rec.Layer(record.LayerFoundation)) != 0 {
		t.Fatalf("foundation layer populated on failure: %v", rec.Layer(record.LayerFoundation))
	}
	if len(rec.AuditLog) != 0 {
		t.Fatalf("audit log length = %d, want 0", len(rec.AuditLog))
	}
	if llm.calls != 1 {
		t.Fatalf("reasoning called %d times, want 1 (no stages after the failure)", llm.calls)
	}
}

func TestRunnerTruncatesAtFailingStage(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	llm := &scriptedClient{responses: []string{
		`{"patient_id": "1109", "symptoms": ["headache"], "is_serious": false}`,
		`here is a score but no braces at all`,
	}}
	runner := fullPipeline(store, llm)
	submit(t, store, "e1")

	if err := runner.Run(ctx, "e1"); err == nil {
		t.Fatal("expected failure at risk scoring")
	}

	rec, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != record.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	// Stage 1's commit survives; stage 2 and beyond stay empty.
	if _, ok := rec.Layer(record.LayerFoundation)["structured_data"]; !ok {
		t.Fatal("foundation layer lost on later failure")
	}
	if len(rec.Layer(record.LayerStrategic)) != 0 {
		t.Fatalf("strategic layer populated: %v", rec.Layer(record.LayerStrategic))
	}
	if len(rec.Layer(record.LayerSynthesis)) != 0 {
		t.Fatalf("synthesis layer populated: %v", rec.Layer(record.LayerSynthesis))
	}
	if len(rec.AuditLog) != 1 {
		t.Fatalf("audit log length = %d, want 1", len(rec.AuditLog))
	}
	if !strings.HasPrefix(rec.Error, swarm.StageRiskScoring) {
		t.Fatalf("error %q does not name the failing stage", rec.Error)
	}
}

func TestRiskScoringPreconditionFires(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	log := testLogger()
	// Pipeline starting at risk scoring, against a foundation layer whose
	// stubbed extraction output lacks symptoms.
	runner := swarm.NewRunner(store, []swarm.Stage{
		swarm.NewRiskScoringStage(store, reasoning.NewCannedClient(), testKnowledge(), log),
	}, log)
	submit(t, store, "e1")
	if err := store.SetLayer(ctx, "e1", record.LayerFoundation, map[string]any{
		"structured_data":     map[string]any{"patient_id": "1109"},
		"extraction_complete": true,
	}); err != nil {
		t.Fatal(err)
	}

	err := runner.Run(ctx, "e1")
	if !errors.Is(err, swarm.ErrMissingPrecondition) {
		t.Fatalf("run error = %v, want ErrMissingPrecondition", err)
	}

	rec, gerr := store.Get(ctx, "e1")
	if gerr != nil {
		t.Fatal(gerr)
	}
	if rec.Status != record.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if len(rec.AuditLog) != 0 {
		t.Fatal("precondition failure must not produce an audit entry")
	}
	if len(rec.Layer(record.LayerStrategic)) != 0 {
		t.Fatal("precondition failure must not commit a layer")
	}
}

func TestRecommendationPreconditionFires(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	log := testLogger()
	runner := swarm.NewRunner(store, []swarm.Stage{
		swarm.NewRecommendationStage(store, reasoning.NewCannedClient(), testRules(), log),
	}, log)
	submit(t, store, "e1")

	err := runner.Run(ctx, "e1")
	if !errors.Is(err, swarm.ErrMissingPrecondition) {
		t.Fatalf("run error = %v, want ErrMissingPrecondition", err)
	}
}

func TestRunnerRejectsSecondRun(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	runner := fullPipeline(store, reasoning.NewCannedClient())
	submit(t, store, "e1")

	if err := runner.Run(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	// A completed record cannot re-enter running.
	if err := runner.Run(ctx, "e1"); !errors.Is(err, record.ErrBadTransition) {
		t.Fatalf("second run error = %v, want ErrBadTransition", err)
	}
}
