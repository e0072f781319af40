// Package storage persists the audit trail of classifications: one row per
// CHECK/REPORT/PROCESS response, written best-effort to MySQL after the
// response has already gone out to the client (§7's propagation policy —
// a storage fault never reopens a response that was already sent).
package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// New opens a MySQL connection using the provided URL and limits the number of
// open connections.
func New(dbURL string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dbURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// AuditRecord is one row per classification (SPEC_FULL §3 supplement):
// message-id, envelope correlation id, score, verdict, matched-rule CSV and
// timestamp, plus the scoring.Decide action layered on top of the rule
// engine's own verdict.
type AuditRecord struct {
	CorrelationID string
	MessageID     string
	Score         float64
	Threshold     float64
	Verdict       bool
	MatchedRules  string // comma-separated rule names, insertion order
	Action        string // "accept", "quarantine" or "reject"
	ReceivedAt    time.Time
}

// Store wraps a sql.DB to implement the audit trail.
type Store struct{ DB *sql.DB }

// NewStore creates a Store using the provided DB.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// WriteAudit persists one AuditRecord and returns its generated row id.
func (s *Store) WriteAudit(ctx context.Context, r AuditRecord) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO audit_log
		(correlation_id, message_id, score, threshold, verdict, matched_rules, action, received_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.CorrelationID, r.MessageID, r.Score, r.Threshold, r.Verdict, r.MatchedRules, r.Action, r.ReceivedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Quarantine records that the audited classification at auditID was
// quarantined or rejected for reason.
func (s *Store) Quarantine(ctx context.Context, auditID int64, reason string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO quarantine (audit_id, reason, quarantined_at) VALUES (?,?,?)`,
		auditID, reason, time.Now())
	return err
}
