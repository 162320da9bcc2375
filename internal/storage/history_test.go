package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/proto"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "calls.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTokenFingerprint(t *testing.T) {
	fp := TokenFingerprint("secret-loop-token")
	if len(fp) != 16 {
		t.Fatalf("fingerprint length %d", len(fp))
	}
	if strings.Contains(fp, "secret") {
		t.Fatal("fingerprint leaks the token")
	}
	if fp != TokenFingerprint("secret-loop-token") {
		t.Fatal("fingerprint must be stable")
	}
	if TokenFingerprint("") != "" {
		t.Fatal("empty token has no fingerprint")
	}
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	recs := []call.AttemptRecord{
		{ID: "a", LoopToken: "tok", CallType: proto.CallTypeAudio, Outcome: call.OutcomeFailed, State: call.StateFailure, Reason: proto.ReasonBusy, StartedAt: base, EndedAt: base.Add(time.Second)},
		{ID: "b", LoopToken: "tok", CallType: proto.CallTypeAudioVideo, Outcome: call.OutcomeEnded, State: call.StateEnd, StartedAt: base.Add(time.Minute), EndedAt: base.Add(3 * time.Minute)},
		{ID: "c", LoopToken: "", CallType: proto.CallTypeAudio, Outcome: call.OutcomeCancelled, State: call.StateStart, Reason: proto.ReasonCancel, StartedAt: base.Add(4 * time.Minute), EndedAt: base.Add(5 * time.Minute)},
	}
	for _, r := range recs {
		if err := db.RecordAttempt(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	got, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[1].DurationMs != (2 * time.Minute).Milliseconds() {
		t.Fatalf("duration %d", got[1].DurationMs)
	}
	if got[1].TokenFingerprint != TokenFingerprint("tok") || got[1].State != call.StateEnd {
		t.Fatalf("unexpected entry %+v", got[1])
	}

	all, err := db.Recent(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("recent all: %d %v", len(all), err)
	}
	if all[2].Reason != proto.ReasonBusy {
		t.Fatalf("reason lost: %+v", all[2])
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	_ = db.RecordAttempt(ctx, call.AttemptRecord{ID: "old", CallType: proto.CallTypeAudio, Outcome: call.OutcomeEnded, State: call.StateEnd, StartedAt: old, EndedAt: old})
	_ = db.RecordAttempt(ctx, call.AttemptRecord{ID: "new", CallType: proto.CallTypeAudio, Outcome: call.OutcomeEnded, State: call.StateEnd, StartedAt: time.Now(), EndedAt: time.Now()})

	n, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune: %d %v", n, err)
	}
	got, _ := db.Recent(ctx, 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestDBSatisfiesRecorder(t *testing.T) {
	var _ call.Recorder = openTestDB(t)
}

func TestReopenKeepsSchemaAndRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.RecordAttempt(ctx, call.AttemptRecord{
		ID: "a1", LoopToken: "tok", CallType: proto.CallTypeAudio,
		Outcome: call.OutcomeEnded, State: call.StateEnd,
		StartedAt: time.Now().Add(-time.Minute), EndedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	path := db.Path()
	db.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	var version string
	if err := again.db.QueryRow(`SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != "2" {
		t.Fatalf("schema_version = %q", version)
	}
	rows, err := again.Recent(ctx, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows %+v %v", rows, err)
	}
}
