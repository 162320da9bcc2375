// internal/viewer/routes/register.go
package routes

import (
	"context"
	"net/http"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/storage"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Call is the controller surface the view layer may drive.
type Call interface {
	StartCall(ct proto.CallType) error
	CancelPending() error
	Retry() error
	AcknowledgeEnd() error
	OnLocalAndRemoteStreamsConnected() error
	OnPeerHangup() error
	OnNetworkDisconnected() error
	OnConnectionError(err error) error

	State() call.Snapshot
	Transitions() []call.Step
	Subscribe() (<-chan call.Update, func())
}

// History lists finished attempts.
type History interface {
	Recent(ctx context.Context, limit int) ([]storage.HistoryEntry, error)
}

type Deps struct {
	Call    Call
	History History // nil when history is disabled
	Logs    Logs
}

func Register(mux *http.ServeMux, d Deps) {
	if d.Logs != nil {
		// GET /api/logs?system=call and GET /api/logs/stream (SSE, tail only)
		mux.HandleFunc("/api/logs", d.Logs.ServeLogsJSON)
		mux.HandleFunc("/api/logs/stream", d.Logs.ServeLogsSSE)
	}
	if d.Call != nil {
		RegisterCall(mux, d.Call)
	}
	registerHistoryRoutes(mux, d)
}
