package record_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resilienthike/clinical-swarm/internal/record"
)

// The Redis store tests require a running Redis on the default port and
// skip when none is reachable.
func openTestRedis(t *testing.T) *record.RedisStore {
	t.Helper()
	s := record.NewRedisStore("localhost:6379", 0)
	if err := s.Ping(context.Background()); err != nil {
		_ = s.Close()
		t.Skip("skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testEventID keeps runs against a shared Redis from colliding.
func testEventID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("event_test_%s", uuid.New().String())
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	rec := record.New(testEventID(t), "1109", "Patient reports headache, confusion, loss of balance.")
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, rec.EventID)
	require.NoError(t, err)
	assert.Equal(t, rec.EventID, got.EventID)
	assert.Equal(t, "1109", got.PatientID)
	assert.Equal(t, rec.RawReportText, got.RawReportText)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.AuditLog)
	assert.Empty(t, got.Handoffs)
	assert.Empty(t, got.Layer(record.LayerFoundation))
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = s.Get(ctx, "event_test_missing")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestRedisStoreDuplicateInsertLeavesOriginal(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	id := testEventID(t)
	require.NoError(t, s.Insert(ctx, record.New(id, "first", "first report")))

	assert.ErrorIs(t, s.Insert(ctx, record.New(id, "second", "second report")), record.ErrDuplicateID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first", got.PatientID)
	assert.Equal(t, "first report", got.RawReportText)
}

// Every status pair the in-process guard rules on must get the same
// verdict from the store's script, including terminal stickiness.
func TestRedisStoreStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	statuses := []record.Status{
		record.StatusPending,
		record.StatusRunning,
		record.StatusComplete,
		record.StatusFailed,
	}
	// Legal path from pending into each starting state.
	pathTo := map[record.Status][]record.Status{
		record.StatusPending:  {},
		record.StatusRunning:  {record.StatusRunning},
		record.StatusComplete: {record.StatusRunning, record.StatusComplete},
		record.StatusFailed:   {record.StatusRunning, record.StatusFailed},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				id := testEventID(t)
				require.NoError(t, s.Insert(ctx, record.New(id, "p", "text")))
				for _, step := range pathTo[from] {
					require.NoError(t, s.SetStatus(ctx, id, step, ""))
				}

				err := s.SetStatus(ctx, id, to, "")
				if record.CanTransition(from, to) {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, record.ErrBadTransition)
					got, gerr := s.Get(ctx, id)
					require.NoError(t, gerr)
					assert.Equal(t, from, got.Status, "rejected transition must not change status")
				}
			})
		}
	}
}

func TestRedisStoreFailureRecordsError(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	id := testEventID(t)
	require.NoError(t, s.Insert(ctx, record.New(id, "p", "text")))
	require.NoError(t, s.SetStatus(ctx, id, record.StatusRunning, ""))
	require.NoError(t, s.SetStatus(ctx, id, record.StatusFailed, "risk_scoring: reasoning call: boom"))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, got.Status)
	assert.Equal(t, "risk_scoring: reasoning call: boom", got.Error)
}

func TestRedisStoreLayersAndLogs(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	id := testEventID(t)
	require.NoError(t, s.Insert(ctx, record.New(id, "p", "text")))

	require.NoError(t, s.SetLayer(ctx, id, record.LayerFoundation, map[string]any{
		"structured_data": map[string]any{
			"patient_id": "p",
			"symptoms":   []string{"headache", "confusion"},
			"is_serious": true,
		},
		"extraction_complete": true,
	}))
	require.NoError(t, s.AppendAudit(ctx, id, record.AuditEntry{
		StageName:       "extraction",
		StageTitle:      "Data Extraction Specialist",
		DurationSeconds: 0.42,
		Timestamp:       time.Now().UTC(),
	}))
	require.NoError(t, s.AppendAudit(ctx, id, record.AuditEntry{
		StageName: "risk_scoring",
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, s.AppendHandoff(ctx, id, record.Handoff{
		FromStage: "extraction",
		ToStage:   "risk_scoring",
		Message:   "Foundation layer complete: extracted 2 symptoms.",
		Timestamp: time.Now().UTC(),
	}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)

	foundation := got.Layer(record.LayerFoundation)
	assert.Equal(t, true, foundation["extraction_complete"])
	sd, ok := foundation["structured_data"].(map[string]any)
	require.True(t, ok, "structured_data survives the JSON round trip as an object")
	assert.Equal(t, []any{"headache", "confusion"}, sd["symptoms"])

	require.Len(t, got.AuditLog, 2)
	assert.Equal(t, "extraction", got.AuditLog[0].StageName)
	assert.Equal(t, "risk_scoring", got.AuditLog[1].StageName)
	assert.InDelta(t, 0.42, got.AuditLog[0].DurationSeconds, 1e-9)
	require.Len(t, got.Handoffs, 1)
	assert.Equal(t, "risk_scoring", got.Handoffs[0].ToStage)
	assert.False(t, got.LastUpdate.Before(got.CreatedAt))
}

func TestRedisStoreMutateMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)

	assert.ErrorIs(t, s.SetLayer(ctx, "event_test_nope", record.LayerFoundation, map[string]any{}), record.ErrNotFound)
	assert.ErrorIs(t, s.AppendAudit(ctx, "event_test_nope", record.AuditEntry{}), record.ErrNotFound)
	assert.ErrorIs(t, s.AppendHandoff(ctx, "event_test_nope", record.Handoff{}), record.ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, "event_test_nope", record.StatusRunning, ""), record.ErrNotFound)
}
