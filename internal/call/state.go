package call

import (
	"errors"
	"fmt"

	"github.com/petervdpas/goopcall/internal/proto"
)

var (
	ErrNotAllowed      = errors.New("call: not allowed in current state")
	ErrClosed          = errors.New("call: controller closed")
	ErrInvalidCallType = errors.New("call: invalid call type")
)

// State is the controller state shown to the view layer.
type State string

const (
	StateStart            State = "START"
	StateFailure          State = "FAILURE"
	StatePermissionPrompt State = "PERMISSION_PROMPT"
	StatePending          State = "PENDING"
	StateConnected        State = "CONNECTED"
	StateEnd              State = "END"
	StateExpired          State = "EXPIRED"
)

// Terminal reports whether only an explicit retry can leave s.
func (s State) Terminal() bool { return s == StateEnd || s == StateExpired }

// Phase is State plus the sub-steps that do not show up as their own state.
type Phase struct {
	State State
	// SettingUp is true in START while the setup request is outstanding.
	SettingUp bool
	// MediaUp is true in CONNECTED once the server was told media is up.
	MediaUp bool
}

func (p Phase) String() string {
	switch {
	case p.SettingUp:
		return string(p.State) + "/setup"
	case p.MediaUp:
		return string(p.State) + "/media-up"
	default:
		return string(p.State)
	}
}

// EventKind names every input the controller reacts to: user commands,
// media-layer callbacks and results of asynchronous work.
type EventKind string

const (
	EventStartCall EventKind = "start-call"
	EventCancel    EventKind = "cancel"
	EventRetry     EventKind = "retry"
	EventAckEnd    EventKind = "ack-end"

	EventSetupSucceeded EventKind = "setup-succeeded"
	EventSetupExpired   EventKind = "setup-expired"
	EventSetupFailed    EventKind = "setup-failed"

	EventPermissionGranted EventKind = "permission-granted"
	EventPermissionDenied  EventKind = "permission-denied"

	EventAlerting   EventKind = "alerting"
	EventConnecting EventKind = "connecting"
	EventTerminated EventKind = "terminated"

	EventStreamsConnected    EventKind = "streams-connected"
	EventPeerHangup          EventKind = "peer-hangup"
	EventNetworkDisconnected EventKind = "network-disconnected"
	EventConnectionError     EventKind = "connection-error"
)

// Event is one input to Transition.
type Event struct {
	Kind EventKind

	// EventStartCall
	CallType     proto.CallType
	MissingToken bool

	// EventTerminated
	Reason proto.TerminationReason

	// EventSetupSucceeded
	Credentials *proto.SessionCredentials

	// Cause of setup failures, denials and connection errors. Not inspected
	// by Transition.
	Err error
}

// Outcome is how an attempt ended, as recorded in call history.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeEnded     Outcome = "ended"
)

// Notification keys, one per user-visible failure or end.
const (
	NoteMissingInfo         = "missing_conversation_info"
	NoteSessionNotReady     = "cannot_start_call_session_not_ready"
	NoteExpired             = "call_url_expired"
	NoteGenericFailure      = "generic_failure_message"
	NotePeerEnded           = "peer_ended_conversation2"
	NoteNetworkDisconnected = "network_disconnected"
	NoteConnectionError     = "connection_error_see_console_notification"
	NoteAlerting            = "alerting"
)

// Notification is a message for the view layer. Rendering is not our job.
type Notification struct {
	Level  string                  `json:"level"`
	Key    string                  `json:"key"`
	Reason proto.TerminationReason `json:"reason,omitempty"`
	Detail string                  `json:"detail,omitempty"`
}

// Effects is what the controller must do after a transition, in this order:
// NewAttempt, Teardown, Record, Release, then the async starts.
type Effects struct {
	NewAttempt bool
	// Teardown resets the gate and cancels the channel of the current attempt.
	Teardown bool
	Outcome  Outcome
	Reason   proto.TerminationReason
	// Release forgets the attempt once it is torn down.
	Release bool

	RequestSetup     bool
	AcquireMedia     bool
	OpenChannel      bool
	NotifyMediaReady bool

	Notify *Notification
}

// ends tears down and records; every path into FAILURE, END, START or EXPIRED
// goes through it.
func ends(o Outcome, r proto.TerminationReason, n *Notification) Effects {
	return Effects{Teardown: true, Outcome: o, Reason: r, Notify: n}
}

func reset() Effects { return Effects{Teardown: true, Release: true} }

func cancelled() Effects {
	fx := ends(OutcomeCancelled, proto.ReasonCancel, nil)
	fx.Release = true
	return fx
}

func note(level, key string, r proto.TerminationReason, err error) *Notification {
	n := &Notification{Level: level, Key: key, Reason: r}
	if err != nil {
		n.Detail = err.Error()
	}
	return n
}

// Transition is the whole state table. It has no side effects; the
// controller performs the returned Effects. Pairs not in the table return
// ErrNotAllowed and leave the phase unchanged.
func Transition(p Phase, ev Event) (Phase, Effects, error) {
	switch p.State {
	case StateStart:
		if !p.SettingUp {
			if ev.Kind != EventStartCall {
				break
			}
			if ev.MissingToken {
				fx := ends(OutcomeFailed, proto.ReasonNone, note("error", NoteMissingInfo, proto.ReasonNone, nil))
				fx.NewAttempt = true
				return Phase{State: StateFailure}, fx, nil
			}
			return Phase{State: StateStart, SettingUp: true}, Effects{NewAttempt: true, RequestSetup: true}, nil
		}
		switch ev.Kind {
		case EventSetupSucceeded:
			return Phase{State: StatePermissionPrompt}, Effects{AcquireMedia: true}, nil
		case EventSetupExpired:
			return Phase{State: StateExpired}, ends(OutcomeExpired, proto.ReasonNone, note("warn", NoteExpired, proto.ReasonNone, ev.Err)), nil
		case EventSetupFailed:
			return Phase{State: StateFailure}, ends(OutcomeFailed, proto.ReasonNone, note("error", NoteSessionNotReady, proto.ReasonNone, ev.Err)), nil
		case EventCancel:
			return Phase{State: StateStart}, cancelled(), nil
		}

	case StatePermissionPrompt:
		switch ev.Kind {
		case EventPermissionGranted:
			return Phase{State: StatePending}, Effects{OpenChannel: true}, nil
		case EventPermissionDenied:
			return Phase{State: StateFailure}, ends(OutcomeFailed, proto.ReasonMediaFail, note("error", NoteGenericFailure, proto.ReasonMediaFail, ev.Err)), nil
		case EventCancel:
			return Phase{State: StateStart}, cancelled(), nil
		}

	case StatePending:
		switch ev.Kind {
		case EventAlerting:
			return p, Effects{Notify: note("info", NoteAlerting, proto.ReasonNone, nil)}, nil
		case EventConnecting:
			return Phase{State: StateConnected}, Effects{}, nil
		case EventTerminated:
			return terminated(ev.Reason)
		case EventCancel:
			return Phase{State: StateStart}, cancelled(), nil
		}

	case StateConnected:
		switch ev.Kind {
		case EventStreamsConnected:
			if p.MediaUp {
				return p, Effects{}, nil
			}
			return Phase{State: StateConnected, MediaUp: true}, Effects{NotifyMediaReady: true}, nil
		case EventPeerHangup:
			return Phase{State: StateEnd}, ends(OutcomeEnded, proto.ReasonNone, note("info", NotePeerEnded, proto.ReasonNone, nil)), nil
		case EventNetworkDisconnected:
			return Phase{State: StateEnd}, ends(OutcomeEnded, proto.ReasonClosed, note("warn", NoteNetworkDisconnected, proto.ReasonClosed, nil)), nil
		case EventConnectionError:
			return Phase{State: StateEnd}, ends(OutcomeEnded, proto.ReasonClosed, note("error", NoteConnectionError, proto.ReasonClosed, ev.Err)), nil
		case EventCancel:
			// Local hangup.
			return Phase{State: StateEnd}, ends(OutcomeEnded, proto.ReasonCancel, nil), nil
		case EventTerminated:
			return terminated(ev.Reason)
		}

	case StateFailure, StateExpired:
		if ev.Kind == EventRetry {
			return Phase{State: StateStart}, reset(), nil
		}

	case StateEnd:
		if ev.Kind == EventRetry || ev.Kind == EventAckEnd {
			return Phase{State: StateStart}, reset(), nil
		}
	}
	return p, Effects{}, fmt.Errorf("%w: %s in %s", ErrNotAllowed, ev.Kind, p)
}

// terminated maps a server-side end of the call. Only an explicit cancel is a
// clean abort; every other reason is the same generic failure.
func terminated(r proto.TerminationReason) (Phase, Effects, error) {
	if r == proto.ReasonCancel {
		return Phase{State: StateStart}, cancelled(), nil
	}
	return Phase{State: StateFailure}, ends(OutcomeFailed, r, note("error", NoteGenericFailure, r, nil)), nil
}
