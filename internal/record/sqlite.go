package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a single sqlite table. Layers and logs
// are stored as JSON text; the append operations rewrite the array inside
// a transaction, which is safe because only one worker writes per event.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS clinical_events (
		event_id TEXT PRIMARY KEY,
		patient_id TEXT,
		raw_report_text TEXT,
		status TEXT,
		error TEXT NOT NULL DEFAULT '',
		context_layers JSON,
		agent_logs JSON,
		agent_handoffs JSON,
		created_at DATETIME,
		last_update DATETIME
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const recordColumns = `event_id, patient_id, raw_report_text, status, error, context_layers, agent_logs, agent_handoffs, created_at, last_update`

func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	layers, err := json.Marshal(rec.Layers)
	if err != nil {
		return err
	}
	logs, err := json.Marshal(rec.AuditLog)
	if err != nil {
		return err
	}
	handoffs, err := json.Marshal(rec.Handoffs)
	if err != nil {
		return err
	}

	query := `INSERT INTO clinical_events (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.EventID, rec.PatientID, rec.RawReportText, string(rec.Status), rec.Error,
		string(layers), string(logs), string(handoffs),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.LastUpdate.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM clinical_events WHERE event_id = ?`
	row := s.db.QueryRowContext(ctx, query, eventID)
	return scanRecord(row)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, eventID string, status Status, errMsg string) error {
	rec, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if !CanTransition(rec.Status, status) {
		return ErrBadTransition
	}
	// Guard on the previous status so a concurrent writer cannot slip a
	// transition in between the read and the update.
	query := `UPDATE clinical_events SET status = ?, error = ?, last_update = ? WHERE event_id = ? AND status = ?`
	e := rec.Error
	if status == StatusFailed {
		e = errMsg
	}
	res, err := s.db.ExecContext(ctx, query,
		string(status), e, time.Now().UTC().Format(time.RFC3339Nano), eventID, string(rec.Status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBadTransition
	}
	return nil
}

func (s *SQLiteStore) SetLayer(ctx context.Context, eventID, layer string, payload map[string]any) error {
	return s.mutate(ctx, eventID, func(rec *Record) {
		rec.Layers[layer] = payload
	})
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, eventID string, entry AuditEntry) error {
	return s.mutate(ctx, eventID, func(rec *Record) {
		rec.AuditLog = append(rec.AuditLog, entry)
	})
}

func (s *SQLiteStore) AppendHandoff(ctx context.Context, eventID string, handoff Handoff) error {
	return s.mutate(ctx, eventID, func(rec *Record) {
		rec.Handoffs = append(rec.Handoffs, handoff)
	})
}

// mutate applies fn to the JSON document columns inside one transaction.
func (s *SQLiteStore) mutate(ctx context.Context, eventID string, fn func(*Record)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM clinical_events WHERE event_id = ?`, eventID)
	rec, err := scanRecord(row)
	if err != nil {
		return err
	}
	fn(rec)

	layers, err := json.Marshal(rec.Layers)
	if err != nil {
		return err
	}
	logs, err := json.Marshal(rec.AuditLog)
	if err != nil {
		return err
	}
	handoffs, err := json.Marshal(rec.Handoffs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE clinical_events SET context_layers = ?, agent_logs = ?, agent_handoffs = ?, last_update = ? WHERE event_id = ?`,
		string(layers), string(logs), string(handoffs),
		time.Now().UTC().Format(time.RFC3339Nano), eventID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                    Record
		status                 string
		layers, logs, handoffs string
		createdAt, lastUpdate  string
	)
	err := row.Scan(&rec.EventID, &rec.PatientID, &rec.RawReportText, &status, &rec.Error,
		&layers, &logs, &handoffs, &createdAt, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Status = Status(status)
	if err := json.Unmarshal([]byte(layers), &rec.Layers); err != nil {
		return nil, fmt.Errorf("decode layers: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &rec.AuditLog); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	if err := json.Unmarshal([]byte(handoffs), &rec.Handoffs); err != nil {
		return nil, fmt.Errorf("decode handoffs: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.LastUpdate, err = time.Parse(time.RFC3339Nano, lastUpdate); err != nil {
		return nil, fmt.Errorf("decode last_update: %w", err)
	}
	return &rec, nil
}

func isConstraintErr(err error) bool {
	// modernc.org/sqlite reports UNIQUE violations in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint")
}
