package routes

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/proto"
)

var log = logging.Logger("viewer")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Only same-host pages may watch the call.
	CheckOrigin: func(r *http.Request) bool { return isLocalRequest(r) },
}

const wsWriteTimeout = 5 * time.Second

// commandStatus maps controller errors onto HTTP statuses.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, call.ErrNotAllowed):
		return http.StatusConflict
	case errors.Is(err, call.ErrInvalidCallType):
		return http.StatusBadRequest
	case errors.Is(err, call.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// reply answers a command with the resulting state, or the error.
func reply(w http.ResponseWriter, c Call, err error) {
	if err != nil {
		writeJSONStatus(w, commandStatus(err), map[string]any{
			"error": err.Error(),
			"state": c.State(),
		})
		return
	}
	writeJSON(w, c.State())
}

// command registers a body-less POST that runs fn.
func command(mux *http.ServeMux, path string, c Call, fn func() error) {
	handlePost(mux, path, func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		reply(w, c, fn())
	})
}

// RegisterCall registers the call command and state API.
func RegisterCall(mux *http.ServeMux, c Call) {
	// GET /api/call/state
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.State())
	})

	// GET /api/call/transitions: recent state machine steps, oldest first.
	handleGet(mux, "/api/call/transitions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Transitions())
	})

	// POST /api/call/start {"call_type":"audio"|"audio-video"}
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		CallType proto.CallType `json:"call_type"`
	}) {
		if req.CallType == "" {
			req.CallType = proto.CallTypeAudioVideo
		}
		reply(w, c, c.StartCall(req.CallType))
	})

	command(mux, "/api/call/cancel", c, c.CancelPending)
	command(mux, "/api/call/retry", c, c.Retry)
	command(mux, "/api/call/ack-end", c, c.AcknowledgeEnd)

	// Media-layer callbacks.
	command(mux, "/api/call/media/streams-connected", c, c.OnLocalAndRemoteStreamsConnected)
	command(mux, "/api/call/media/peer-hangup", c, c.OnPeerHangup)
	command(mux, "/api/call/media/network-disconnected", c, c.OnNetworkDisconnected)

	// POST /api/call/media/connection-error {"code":"...","message":"..."}
	handlePost(mux, "/api/call/media/connection-error", func(w http.ResponseWriter, r *http.Request, req struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}) {
		var err error
		switch {
		case req.Code != "" && req.Message != "":
			err = fmt.Errorf("%s: %s", req.Code, req.Message)
		case req.Code != "":
			err = errors.New(req.Code)
		case req.Message != "":
			err = errors.New(req.Message)
		}
		reply(w, c, c.OnConnectionError(err))
	})

	// GET /api/call/events: SSE stream of state updates and notifications.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		updates, cancel := c.Subscribe()
		defer cancel()

		if writeSSE(w, "state", call.Update{Snapshot: c.State()}) != nil {
			return
		}
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if writeSSE(w, "state", u) != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	// GET /api/call/ws: the same updates over a websocket.
	mux.HandleFunc("/api/call/ws", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("VIEWER: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		updates, cancel := c.Subscribe()
		defer cancel()

		// Drain incoming frames so close and ping are handled.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(u call.Update) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(u)
		}
		if send(call.Update{Snapshot: c.State()}) != nil {
			return
		}
		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case u, ok := <-updates:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				if send(u) != nil {
					return
				}
			}
		}
	})
}
