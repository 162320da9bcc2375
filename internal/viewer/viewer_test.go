package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petervdpas/goopcall/internal/call"
)

func TestParseLine(t *testing.T) {
	e := parseLine("2026-10-17T09:12:44.120+0200\tINFO\tcall\tcall/controller.go:311\tCALL [1a2b3c4d]: START -> FAILURE (start-call)")
	if e.Level != "info" || e.System != "call" || e.Msg != "CALL [1a2b3c4d]: START -> FAILURE (start-call)" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.TS.Year() != 2026 {
		t.Fatalf("timestamp not parsed: %v", e.TS)
	}

	raw := parseLine("plain line")
	if raw.Msg != "plain line" || raw.System != "" {
		t.Fatalf("unexpected entry %+v", raw)
	}
}

func TestLogBufferWriteAndFilter(t *testing.T) {
	b := NewLogBuffer(3)
	ch, cancel := b.Subscribe()
	defer cancel()

	fmt.Fprint(b, "t\tINFO\tcall\tx.go:1\tone\nt\tWARN\tsignaling\tx.go:2\ttwo\n")
	fmt.Fprint(b, "t\tINFO\tcall\tx.go:3\tthr")
	if got := len(b.Snapshot("")); got != 2 {
		t.Fatalf("partial line flushed early: %d entries", got)
	}
	fmt.Fprint(b, "ee\n\n")

	calls := b.Snapshot("call")
	if len(calls) != 2 || calls[1].Msg != "three" {
		t.Fatalf("unexpected call entries %+v", calls)
	}
	if e := <-ch; e.Msg != "one" {
		t.Fatalf("subscriber got %+v", e)
	}

	fmt.Fprint(b, "t\tINFO\tcall\tx.go:4\tfour\n")
	if all := b.Snapshot(""); len(all) != 3 || all[0].Msg != "two" {
		t.Fatalf("ring buffer did not wrap: %+v", all)
	}
}

func TestHandlerServesLogsUncached(t *testing.T) {
	logs := NewLogBuffer(10)
	fmt.Fprint(logs, "t\tINFO\tmedia\tx.go:1\tgranted\n")
	c := call.New(call.Options{})
	defer c.Close()

	h := Handler(Viewer{Call: c, Logs: logs})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/logs?system=media", nil))
	if w.Header().Get("Cache-Control") == "" {
		t.Fatal("expected no-cache headers")
	}
	var entries []LogEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil || len(entries) != 1 || entries[0].Msg != "granted" {
		t.Fatalf("logs %+v %v", entries, err)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/call/state", nil))
	var snap call.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil || snap.State != call.StateStart {
		t.Fatalf("state %+v %v", snap, err)
	}
}

func TestServeLogsJSONLimit(t *testing.T) {
	logs := NewLogBuffer(10)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(logs, "t\tINFO\tcall\tx.go:1\tline %d\n", i)
	}
	fmt.Fprint(logs, "t\tWARN\tmedia\tx.go:1\tdenied\n")

	tests := []struct {
		query string
		first string
		n     int
	}{
		{"?limit=2", "line 4", 2},
		{"?system=call&limit=3", "line 2", 3},
		{"", "line 0", 6},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		logs.ServeLogsJSON(w, httptest.NewRequest(http.MethodGet, "/api/logs"+tt.query, nil))
		var entries []LogEntry
		if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
			t.Fatal(err)
		}
		if len(entries) != tt.n || entries[0].Msg != tt.first {
			t.Errorf("%q: got %d entries starting %q", tt.query, len(entries), entries[0].Msg)
		}
	}
}
