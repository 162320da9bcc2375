package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/proto"
)

// HistoryEntry is one finished call attempt as listed by the viewer.
type HistoryEntry struct {
	ID               string                  `json:"id"`
	TokenFingerprint string                  `json:"token_fp"`
	CallType         proto.CallType          `json:"call_type"`
	Outcome          call.Outcome            `json:"outcome"`
	State            call.State              `json:"state"`
	Reason           proto.TerminationReason `json:"reason,omitempty"`
	StartedAt        int64                   `json:"started_at"`
	EndedAt          int64                   `json:"ended_at"`
	DurationMs       int64                   `json:"duration_ms"`
}

// TokenFingerprint is a short, non-reversible name for a loop token. The raw
// token grants access to the call target and is never stored.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// RecordAttempt appends a finished attempt. It satisfies call.Recorder.
func (d *DB) RecordAttempt(ctx context.Context, rec call.AttemptRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO call_attempts
			(id, token_fp, call_type, outcome, state, reason, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		TokenFingerprint(rec.LoopToken),
		string(rec.CallType),
		string(rec.Outcome),
		string(rec.State),
		string(rec.Reason),
		rec.StartedAt.UnixMilli(),
		rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, token_fp, call_type, outcome, state, reason, started_at, ended_at
		FROM call_attempts
		ORDER BY ended_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var ct, outcome, state, reason string
		if err := rows.Scan(&e.ID, &e.TokenFingerprint, &ct, &outcome, &state, &reason, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, err
		}
		e.CallType = proto.CallType(ct)
		e.Outcome = call.Outcome(outcome)
		e.State = call.State(state)
		e.Reason = proto.TerminationReason(reason)
		e.DurationMs = e.EndedAt - e.StartedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes attempts that ended before cutoff.
func (d *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx, `DELETE FROM call_attempts WHERE ended_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
