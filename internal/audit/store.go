// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"database/sql"
	"fmt"
	"time"

	"aegis.dev/aegis/internal/record"
	_ "modernc.org/sqlite"
)

// Store handles persistence of audit records to SQLite, grounded on
// internal/services/dns/querylog/store.go's Open/initSchema/RecordEntry
// shape.
type Store struct {
	db *sql.DB
}

// Open opens or creates the audit database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		detection_id TEXT,
		decision_id TEXT,
		rule_id TEXT,
		feature_vector TEXT,
		verdicts TEXT,
		aggregate_score REAL,
		aggregate_label TEXT,
		action TEXT,
		confidence REAL,
		agent_id TEXT,
		rule TEXT,
		outcomes TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_records(decision_id);
	CREATE INDEX IF NOT EXISTS idx_audit_rule ON audit_records(rule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordEntry persists a single audit Record.
func (s *Store) RecordEntry(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	fv, err := marshalJSON(r.FeatureVector)
	if err != nil {
		return fmt.Errorf("audit: marshal feature_vector: %w", err)
	}
	verdicts, err := marshalJSON(r.Verdicts)
	if err != nil {
		return fmt.Errorf("audit: marshal verdicts: %w", err)
	}
	rule, err := marshalJSON(r.Rule)
	if err != nil {
		return fmt.Errorf("audit: marshal rule: %w", err)
	}
	outcomes, err := marshalJSON(r.Outcomes)
	if err != nil {
		return fmt.Errorf("audit: marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO audit_records (
			timestamp, event_type, severity, detection_id, decision_id, rule_id,
			feature_vector, verdicts, aggregate_score, aggregate_label,
			action, confidence, agent_id, rule, outcomes, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		r.Timestamp.Unix(), string(r.EventType), string(r.Severity),
		r.DetectionID, r.DecisionID, r.RuleID,
		fv, verdicts, r.AggregateScore, r.AggregateLabel,
		string(r.Action), r.Confidence, r.AgentID, rule, outcomes, r.Detail,
	)
	return err
}

// GetByDecision returns the audit record for a single decision_id, or
// nil if none exists — used by the read-only httpapi's get_audit.
func (s *Store) GetByDecision(decisionID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT timestamp, event_type, severity, detection_id, decision_id, rule_id,
			aggregate_score, aggregate_label, action, confidence, agent_id, detail
		FROM audit_records WHERE decision_id = ? ORDER BY timestamp DESC LIMIT 1
	`, decisionID)

	var r Record
	var ts int64
	var eventType, severity, action string
	if err := row.Scan(&ts, &eventType, &severity, &r.DetectionID, &r.DecisionID, &r.RuleID,
		&r.AggregateScore, &r.AggregateLabel, &action, &r.Confidence, &r.AgentID, &r.Detail); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.Timestamp = time.Unix(ts, 0)
	r.EventType = EventType(eventType)
	r.Severity = Severity(severity)
	r.Action = record.Action(action)
	return &r, nil
}

// Purge deletes records older than retention, in batches of batchSize,
// returning the total rows removed. Called on a ticker by Logger.RunPurgeLoop.
func (s *Store) Purge(retention time.Duration, batchSize int) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	var total int64
	for {
		result, err := s.db.Exec(`
			DELETE FROM audit_records WHERE id IN (
				SELECT id FROM audit_records WHERE timestamp < ? LIMIT ?
			)
		`, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}
