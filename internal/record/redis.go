package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordPrefix  = "clinical_event:"
	redisAuditPrefix   = "clinical_event_logs:"
	redisHandoffPrefix = "clinical_event_handoffs:"
)

// insertScript writes the whole record hash only when the key is new, so
// a concurrent reader can never observe a half-written record.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// setStatusScript performs the status transition check atomically so the
// guard holds even if the store is shared across processes.
var setStatusScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "status")
if not current then
	return -1
end
local to = ARGV[1]
local legal = (current == "pending" and to == "running")
	or (current == "running" and (to == "complete" or to == "failed"))
if not legal then
	return 0
end
redis.call("HSET", KEYS[1], "status", to, "last_update", ARGV[3])
if to == "failed" then
	redis.call("HSET", KEYS[1], "error", ARGV[2])
end
return 1
`)

// RedisStore keeps each record in a hash, with the audit and handoff logs
// as separate lists so appends never rewrite the whole document.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance at addr.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Close releases the client's connections.
func (s *RedisStore) Close() error { return s.client.Close() }

// Ping verifies connectivity; called once at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Insert(ctx context.Context, rec *Record) error {
	layers, err := json.Marshal(rec.Layers)
	if err != nil {
		return err
	}
	res, err := insertScript.Run(ctx, s.client,
		[]string{redisRecordPrefix + rec.EventID},
		"event_id", rec.EventID,
		"patient_id", rec.PatientID,
		"raw_report_text", rec.RawReportText,
		"status", string(rec.Status),
		"error", rec.Error,
		"context_layers", string(layers),
		"created_at", rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_update", rec.LastUpdate.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	if res == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, eventID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, redisRecordPrefix+eventID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rec := &Record{
		EventID:       fields["event_id"],
		PatientID:     fields["patient_id"],
		RawReportText: fields["raw_report_text"],
		Status:        Status(fields["status"]),
		Error:         fields["error"],
	}
	if err := json.Unmarshal([]byte(fields["context_layers"]), &rec.Layers); err != nil {
		return nil, fmt.Errorf("decode layers: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.LastUpdate, err = time.Parse(time.RFC3339Nano, fields["last_update"]); err != nil {
		return nil, fmt.Errorf("decode last_update: %w", err)
	}

	rec.AuditLog = []AuditEntry{}
	raw, err := s.client.LRange(ctx, redisAuditPrefix+eventID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis audit log: %w", err)
	}
	for _, item := range raw {
		var e AuditEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		rec.AuditLog = append(rec.AuditLog, e)
	}

	rec.Handoffs = []Handoff{}
	raw, err = s.client.LRange(ctx, redisHandoffPrefix+eventID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis handoffs: %w", err)
	}
	for _, item := range raw {
		var h Handoff
		if err := json.Unmarshal([]byte(item), &h); err != nil {
			return nil, fmt.Errorf("decode handoff: %w", err)
		}
		rec.Handoffs = append(rec.Handoffs, h)
	}
	return rec, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, eventID string, status Status, errMsg string) error {
	res, err := setStatusScript.Run(ctx, s.client,
		[]string{redisRecordPrefix + eventID},
		string(status), errMsg, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrBadTransition
	}
	return nil
}

func (s *RedisStore) SetLayer(ctx context.Context, eventID, layer string, payload map[string]any) error {
	rec, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	rec.Layers[layer] = payload
	layers, err := json.Marshal(rec.Layers)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, redisRecordPrefix+eventID,
		"context_layers", string(layers),
		"last_update", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) AppendAudit(ctx context.Context, eventID string, entry AuditEntry) error {
	return s.appendLog(ctx, eventID, redisAuditPrefix+eventID, entry)
}

func (s *RedisStore) AppendHandoff(ctx context.Context, eventID string, handoff Handoff) error {
	return s.appendLog(ctx, eventID, redisHandoffPrefix+eventID, handoff)
}

func (s *RedisStore) appendLog(ctx context.Context, eventID, key string, item any) error {
	exists, err := s.client.Exists(ctx, redisRecordPrefix+eventID).Result()
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.HSet(ctx, redisRecordPrefix+eventID, "last_update", time.Now().UTC().Format(time.RFC3339Nano))
	_, err = pipe.Exec(ctx)
	return err
}
