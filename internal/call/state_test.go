package call

import (
	"errors"
	"testing"

	"github.com/petervdpas/goopcall/internal/proto"
)

var (
	startIdle  = Phase{State: StateStart}
	settingUp  = Phase{State: StateStart, SettingUp: true}
	prompt     = Phase{State: StatePermissionPrompt}
	pending    = Phase{State: StatePending}
	connected  = Phase{State: StateConnected}
	mediaUp    = Phase{State: StateConnected, MediaUp: true}
	failure    = Phase{State: StateFailure}
	ended      = Phase{State: StateEnd}
	expired    = Phase{State: StateExpired}
	allPhases  = []Phase{startIdle, settingUp, prompt, pending, connected, mediaUp, failure, ended, expired}
	creds      = &proto.SessionCredentials{ProgressURL: "ws://x", WebsocketToken: "t", CallID: "c"}
	someErr    = errors.New("boom")
	allEvents  = []Event{
		{Kind: EventStartCall, CallType: proto.CallTypeAudio},
		{Kind: EventStartCall, CallType: proto.CallTypeAudio, MissingToken: true},
		{Kind: EventCancel},
		{Kind: EventRetry},
		{Kind: EventAckEnd},
		{Kind: EventSetupSucceeded, Credentials: creds},
		{Kind: EventSetupExpired, Err: someErr},
		{Kind: EventSetupFailed, Err: someErr},
		{Kind: EventPermissionGranted},
		{Kind: EventPermissionDenied, Err: someErr},
		{Kind: EventAlerting},
		{Kind: EventConnecting},
		{Kind: EventTerminated, Reason: proto.ReasonCancel},
		{Kind: EventTerminated, Reason: proto.ReasonBusy},
		{Kind: EventTerminated, Reason: proto.ReasonTimeout},
		{Kind: EventStreamsConnected},
		{Kind: EventPeerHangup},
		{Kind: EventNetworkDisconnected},
		{Kind: EventConnectionError, Err: someErr},
	}
)

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     Phase
		ev       Event
		to       Phase
		teardown bool
		outcome  Outcome
		check    func(t *testing.T, fx Effects)
	}{
		{
			name: "start without token fails locally",
			from: startIdle, ev: Event{Kind: EventStartCall, CallType: proto.CallTypeAudio, MissingToken: true},
			to: failure, teardown: true, outcome: OutcomeFailed,
			check: func(t *testing.T, fx Effects) {
				if fx.RequestSetup {
					t.Fatal("no setup request without a token")
				}
				if fx.Notify == nil || fx.Notify.Key != NoteMissingInfo {
					t.Fatalf("expected %s notification, got %+v", NoteMissingInfo, fx.Notify)
				}
			},
		},
		{
			name: "start requests setup",
			from: startIdle, ev: Event{Kind: EventStartCall, CallType: proto.CallTypeAudioVideo},
			to: settingUp,
			check: func(t *testing.T, fx Effects) {
				if !fx.NewAttempt || !fx.RequestSetup {
					t.Fatalf("expected new attempt and setup request, got %+v", fx)
				}
			},
		},
		{
			name: "setup ok prompts for media",
			from: settingUp, ev: Event{Kind: EventSetupSucceeded, Credentials: creds},
			to: prompt,
			check: func(t *testing.T, fx Effects) {
				if !fx.AcquireMedia {
					t.Fatal("expected media acquire")
				}
			},
		},
		{name: "errno 105 expires", from: settingUp, ev: Event{Kind: EventSetupExpired}, to: expired, teardown: true, outcome: OutcomeExpired},
		{name: "other setup error fails", from: settingUp, ev: Event{Kind: EventSetupFailed}, to: failure, teardown: true, outcome: OutcomeFailed},
		{name: "cancel during setup", from: settingUp, ev: Event{Kind: EventCancel}, to: startIdle, teardown: true, outcome: OutcomeCancelled},
		{
			name: "grant opens channel",
			from: prompt, ev: Event{Kind: EventPermissionGranted},
			to: pending,
			check: func(t *testing.T, fx Effects) {
				if !fx.OpenChannel || fx.Teardown {
					t.Fatalf("unexpected effects %+v", fx)
				}
			},
		},
		{
			name: "denial fails",
			from: prompt, ev: Event{Kind: EventPermissionDenied, Err: someErr},
			to: failure, teardown: true, outcome: OutcomeFailed,
			check: func(t *testing.T, fx Effects) {
				if fx.Reason != proto.ReasonMediaFail || fx.Notify.Detail != "boom" {
					t.Fatalf("unexpected effects %+v / %+v", fx, fx.Notify)
				}
			},
		},
		{name: "cancel at prompt", from: prompt, ev: Event{Kind: EventCancel}, to: startIdle, teardown: true, outcome: OutcomeCancelled},
		{
			name: "alerting only notifies",
			from: pending, ev: Event{Kind: EventAlerting},
			to: pending,
			check: func(t *testing.T, fx Effects) {
				if fx.Notify == nil || fx.Notify.Key != NoteAlerting || fx.Teardown {
					t.Fatalf("unexpected effects %+v", fx)
				}
			},
		},
		{name: "connecting connects", from: pending, ev: Event{Kind: EventConnecting}, to: connected},
		{name: "terminated cancel is clean", from: pending, ev: Event{Kind: EventTerminated, Reason: proto.ReasonCancel}, to: startIdle, teardown: true, outcome: OutcomeCancelled},
		{name: "terminated busy fails", from: pending, ev: Event{Kind: EventTerminated, Reason: proto.ReasonBusy}, to: failure, teardown: true, outcome: OutcomeFailed},
		{name: "terminated timeout is not retried", from: pending, ev: Event{Kind: EventTerminated, Reason: proto.ReasonTimeout}, to: failure, teardown: true, outcome: OutcomeFailed},
		{name: "cancel while pending", from: pending, ev: Event{Kind: EventCancel}, to: startIdle, teardown: true, outcome: OutcomeCancelled},
		{
			name: "streams connected notifies once",
			from: connected, ev: Event{Kind: EventStreamsConnected},
			to: mediaUp,
			check: func(t *testing.T, fx Effects) {
				if !fx.NotifyMediaReady {
					t.Fatal("expected media-up notification")
				}
			},
		},
		{
			name: "streams connected again is a no-op",
			from: mediaUp, ev: Event{Kind: EventStreamsConnected},
			to: mediaUp,
			check: func(t *testing.T, fx Effects) {
				if fx.NotifyMediaReady {
					t.Fatal("media-up must be sent once")
				}
			},
		},
		{name: "peer hangup ends", from: mediaUp, ev: Event{Kind: EventPeerHangup}, to: ended, teardown: true, outcome: OutcomeEnded},
		{name: "network loss ends", from: connected, ev: Event{Kind: EventNetworkDisconnected}, to: ended, teardown: true, outcome: OutcomeEnded},
		{
			name: "connection error ends",
			from: mediaUp, ev: Event{Kind: EventConnectionError, Err: someErr},
			to: ended, teardown: true, outcome: OutcomeEnded,
			check: func(t *testing.T, fx Effects) {
				if fx.Notify == nil || fx.Notify.Key != NoteConnectionError || fx.Notify.Level != "error" {
					t.Fatalf("unexpected notification %+v", fx.Notify)
				}
			},
		},
		{name: "local hangup ends", from: connected, ev: Event{Kind: EventCancel}, to: ended, teardown: true, outcome: OutcomeEnded},
		{name: "terminated after connect fails", from: connected, ev: Event{Kind: EventTerminated, Reason: proto.ReasonClosed}, to: failure, teardown: true, outcome: OutcomeFailed},
		{name: "retry from failure", from: failure, ev: Event{Kind: EventRetry}, to: startIdle, teardown: true},
		{name: "retry from end", from: ended, ev: Event{Kind: EventRetry}, to: startIdle, teardown: true},
		{name: "ack from end", from: ended, ev: Event{Kind: EventAckEnd}, to: startIdle, teardown: true},
		{name: "retry from expired", from: expired, ev: Event{Kind: EventRetry}, to: startIdle, teardown: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, fx, err := Transition(tt.from, tt.ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.to {
				t.Fatalf("expected %s, got %s", tt.to, got)
			}
			if fx.Teardown != tt.teardown {
				t.Fatalf("teardown = %v, want %v", fx.Teardown, tt.teardown)
			}
			if fx.Outcome != tt.outcome {
				t.Fatalf("outcome = %q, want %q", fx.Outcome, tt.outcome)
			}
			if tt.check != nil {
				tt.check(t, fx)
			}
		})
	}
}

func TestTransitionRejectsUnlistedPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Phase
		ev   Event
	}{
		{settingUp, Event{Kind: EventStartCall, CallType: proto.CallTypeAudio}},
		{startIdle, Event{Kind: EventCancel}},
		{startIdle, Event{Kind: EventRetry}},
		{prompt, Event{Kind: EventConnecting}},
		{pending, Event{Kind: EventStreamsConnected}},
		{failure, Event{Kind: EventStartCall, CallType: proto.CallTypeAudio}},
		{failure, Event{Kind: EventAckEnd}},
		{expired, Event{Kind: EventAckEnd}},
		{ended, Event{Kind: EventTerminated, Reason: proto.ReasonBusy}},
	}
	for _, tt := range tests {
		got, fx, err := Transition(tt.from, tt.ev)
		if !errors.Is(err, ErrNotAllowed) {
			t.Fatalf("%s + %s: expected ErrNotAllowed, got %v", tt.from, tt.ev.Kind, err)
		}
		if got != tt.from || fx != (Effects{}) {
			t.Fatalf("%s + %s: rejected event must not change anything", tt.from, tt.ev.Kind)
		}
	}
}

// Every transition into FAILURE, END, EXPIRED or an idle START tears down.
func TestTransitionAlwaysTearsDownOnExit(t *testing.T) {
	t.Parallel()

	for _, p := range allPhases {
		for _, ev := range allEvents {
			next, fx, err := Transition(p, ev)
			if err != nil {
				continue
			}
			exits := next.State == StateFailure || next.State == StateEnd ||
				next.State == StateExpired || next == startIdle
			if exits && !fx.Teardown {
				t.Errorf("%s + %s -> %s without teardown", p, ev.Kind, next)
			}
			if fx.Teardown && (fx.RequestSetup || fx.AcquireMedia || fx.OpenChannel || fx.NotifyMediaReady) {
				t.Errorf("%s + %s: teardown combined with async work %+v", p, ev.Kind, fx)
			}
		}
	}
}

func TestTerminalStatesOnlyLeaveOnRetry(t *testing.T) {
	t.Parallel()

	for _, p := range []Phase{ended, expired} {
		if !p.State.Terminal() {
			t.Fatalf("%s should be terminal", p)
		}
		for _, ev := range allEvents {
			next, _, err := Transition(p, ev)
			if err != nil {
				continue
			}
			if ev.Kind != EventRetry && ev.Kind != EventAckEnd {
				t.Errorf("%s left on %s", p, ev.Kind)
			}
			if next != startIdle {
				t.Errorf("%s + %s -> %s, want START", p, ev.Kind, next)
			}
		}
	}
}
