// Package proto holds the wire types shared by the call-setup client and the
// signaling channel.
package proto

import "time"

// CallType is chosen once when a call starts.
type CallType string

const (
	CallTypeAudio      CallType = "audio"
	CallTypeAudioVideo CallType = "audio-video"
)

// Valid reports whether t is one of the known call types.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeAudioVideo
}

// HasVideo reports whether the call wants a camera track.
func (t CallType) HasVideo() bool { return t == CallTypeAudioVideo }

// SessionCredentials is what the call server hands out for one attempt.
// It is never mutated after setup, only replaced by a new attempt.
type SessionCredentials struct {
	SessionID      string `json:"sessionId"`
	SessionToken   string `json:"sessionToken"`
	APIKey         string `json:"apiKey"`
	ProgressURL    string `json:"progressURL"`
	WebsocketToken string `json:"websocketToken"`
	CallID         string `json:"callId"`
}

// Complete reports whether the fields needed to open a signaling channel are set.
func (c SessionCredentials) Complete() bool {
	return c.ProgressURL != "" && c.WebsocketToken != "" && c.CallID != ""
}

// SetupRequest is the body of POST /calls/{token}.
type SetupRequest struct {
	CallType CallType `json:"callType"`
}

// SetupErrorBody is the JSON error body returned by the call server.
type SetupErrorBody struct {
	Code    int    `json:"code"`
	Errno   int    `json:"errno"`
	Message string `json:"error"`
}

// ErrnoInvalidToken is sent whenever a token is missing or expired.
const ErrnoInvalidToken = 105

// Signaling message types.
const (
	MessageHello    = "hello"
	MessageProgress = "progress"
	MessageAction   = "action"
	MessageEcho     = "echo"
)

// Server-side progress states.
const (
	StateInit          = "init"
	StateAlerting      = "alerting"
	StateConnecting    = "connecting"
	StateHalfConnected = "half-connected"
	StateConnected     = "connected"
	StateTerminated    = "terminated"
)

// Client actions.
const (
	ActionMediaUp   = "media-up"
	ActionTerminate = "terminate"
)

// Hello is the first frame the client sends after the websocket opens.
type Hello struct {
	MessageType string `json:"messageType"`
	CallID      string `json:"callId"`
	Auth        string `json:"auth"`
}

// Action is an outbound client event.
type Action struct {
	MessageType string `json:"messageType"`
	Event       string `json:"event"`
	Reason      string `json:"reason,omitempty"`
}

// Frame is any inbound server frame; hello replies and progress frames share it.
type Frame struct {
	MessageType string `json:"messageType"`
	State       string `json:"state,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// TerminationReason is the closed set of causes a channel reports for ending a call.
type TerminationReason string

const (
	ReasonNone        TerminationReason = ""
	ReasonReject      TerminationReason = "reject"
	ReasonBusy        TerminationReason = "busy"
	ReasonTimeout     TerminationReason = "timeout"
	ReasonCancel      TerminationReason = "cancel"
	ReasonMediaFail   TerminationReason = "media-fail"
	ReasonUserUnknown TerminationReason = "user-unknown"
	ReasonClosed      TerminationReason = "closed"
)

// ParseReason maps a wire reason onto the closed enum. Unknown values become
// ReasonClosed.
func ParseReason(s string) TerminationReason {
	switch r := TerminationReason(s); r {
	case ReasonReject, ReasonBusy, ReasonTimeout, ReasonCancel,
		ReasonMediaFail, ReasonUserUnknown, ReasonClosed:
		return r
	default:
		return ReasonClosed
	}
}

// ProgressKind is the typed view of a progress frame.
type ProgressKind string

const (
	ProgressAlerting   ProgressKind = "alerting"
	ProgressConnecting ProgressKind = "connecting"
	ProgressTerminated ProgressKind = "terminated"
)

// ProgressEvent is an immutable value received from a signaling channel.
// Reason is only set for ProgressTerminated.
type ProgressEvent struct {
	Kind   ProgressKind      `json:"kind"`
	Reason TerminationReason `json:"reason,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
