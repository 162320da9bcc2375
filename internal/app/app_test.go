package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/storage"
)

func TestNormalizeLocalViewer(t *testing.T) {
	tests := []struct {
		in, listen string
	}{
		{":8790", "127.0.0.1:8790"},
		{"0.0.0.0:8790", "127.0.0.1:8790"},
		{"[::]:8790", "127.0.0.1:8790"},
		{" 127.0.0.1:9000 ", "127.0.0.1:9000"},
		{"localhost:9000", "localhost:9000"},
	}
	for _, tt := range tests {
		listen, url := NormalizeLocalViewer(tt.in)
		if listen != tt.listen {
			t.Errorf("NormalizeLocalViewer(%q) = %q, want %q", tt.in, listen, tt.listen)
		}
		if url != "http://"+tt.listen+"/api/call/state" {
			t.Errorf("unexpected url %q", url)
		}
	}
}

func TestWaitListening(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := waitListening(ctx, addr); err != nil {
		t.Fatalf("listening server: %v", err)
	}

	srv.Close()
	ctx, cancel = context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := waitListening(ctx, addr); err == nil {
		t.Fatal("expected timeout on a closed port")
	}
}

func TestControllerOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Media.Video = false
	cfg.Media.PreferredMic = "mic-1"
	cfg.Signaling.HandshakeTimeout = 3

	opts := controllerOptions(cfg, "tok")
	if opts.LoopToken != "tok" {
		t.Fatalf("token = %q", opts.LoopToken)
	}
	if !opts.Media.Audio || opts.Media.Video || opts.Media.PreferredMic != "mic-1" {
		t.Fatalf("unexpected media constraints %+v", opts.Media)
	}
	if opts.Signaling.HandshakeTimeout != 3*time.Second {
		t.Fatalf("handshake timeout = %v", opts.Signaling.HandshakeTimeout)
	}
}

func TestReloadSwapsCallServer(t *testing.T) {
	cfg := config.Default()
	cfg.History.Enabled = false
	svc, err := newServices(t.TempDir(), cfg, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	cfg.CallServer.BaseURL = "https://loop.example.org/v1/"
	svc.reload(cfg)
	if got := svc.setup.BaseURL(); got != "https://loop.example.org/v1" {
		t.Fatalf("base url = %q", got)
	}
	if svc.history() != nil {
		t.Fatal("history must be nil when disabled")
	}
}

func TestDialWithoutTokenFailsAndRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Level = "error"

	var out bytes.Buffer
	st, err := Dial(context.Background(), DialOptions{
		PeerDir:  dir,
		Cfg:      cfg,
		CallType: proto.CallTypeAudio,
		In:       strings.NewReader(""),
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if st != call.StateFailure {
		t.Fatalf("state = %s, want FAILURE", st)
	}
	if !strings.Contains(out.String(), call.NoteMissingInfo) {
		t.Fatalf("expected %s in output, got %q", call.NoteMissingInfo, out.String())
	}

	db, err := storage.Open(filepath.Join(dir, cfg.History.DBPath))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rows, err := db.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Outcome != call.OutcomeFailed {
		t.Fatalf("unexpected history %+v", rows)
	}
}

func TestDialCancelDuringSetup(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		close(arrived)
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.History.Enabled = false
	cfg.Log.Level = "error"
	cfg.CallServer.BaseURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	var out bytes.Buffer
	st, err := Dial(ctx, DialOptions{
		PeerDir:  t.TempDir(),
		Cfg:      cfg,
		Token:    "loop-token",
		CallType: proto.CallTypeAudioVideo,
		In:       strings.NewReader(""),
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if st != call.StateStart {
		t.Fatalf("state = %s, want START", st)
	}
}

func TestPromptInteractive(t *testing.T) {
	in := strings.NewReader("https://loop.example.org\n\n\nn\ny\n\n")
	var out bytes.Buffer

	cfg := PromptInteractive(in, &out, "/peer", "/peer/goopcall.json", config.Default())
	if cfg.CallServer.BaseURL != "https://loop.example.org" {
		t.Fatalf("base url = %q", cfg.CallServer.BaseURL)
	}
	if cfg.Media.Video {
		t.Fatal("video should be off")
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "data/calls.db" {
		t.Fatalf("history = %+v", cfg.History)
	}
}

func TestPromptInteractiveRetriesBadNumber(t *testing.T) {
	in := strings.NewReader("\nabc\n30\n\ny\n800\n600\nn\n")
	var out bytes.Buffer

	cfg := PromptInteractive(in, &out, "/peer", "/peer/goopcall.json", config.Default())
	if cfg.CallServer.RequestTimeout != 30 {
		t.Fatalf("timeout = %d", cfg.CallServer.RequestTimeout)
	}
	if cfg.Media.MaxWidth != 800 || cfg.Media.MaxHeight != 600 || cfg.History.Enabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !strings.Contains(out.String(), "Please enter a number.") {
		t.Fatal("expected retry hint")
	}
}
