package proto

import "testing"

func TestParseReason(t *testing.T) {
	tests := []struct {
		in   string
		want TerminationReason
	}{
		{"reject", ReasonReject},
		{"busy", ReasonBusy},
		{"timeout", ReasonTimeout},
		{"cancel", ReasonCancel},
		{"media-fail", ReasonMediaFail},
		{"user-unknown", ReasonUserUnknown},
		{"closed", ReasonClosed},
		{"", ReasonClosed},
		{"answered-elsewhere", ReasonClosed},
		{"CANCEL", ReasonClosed},
	}
	for _, tt := range tests {
		if got := ParseReason(tt.in); got != tt.want {
			t.Errorf("ParseReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionCredentialsComplete(t *testing.T) {
	full := SessionCredentials{ProgressURL: "ws://x", WebsocketToken: "tok", CallID: "c1"}
	if !full.Complete() {
		t.Fatal("expected complete credentials")
	}
	partial := full
	partial.CallID = ""
	if partial.Complete() {
		t.Fatal("expected incomplete credentials without callId")
	}
}

func TestCallType(t *testing.T) {
	if !CallTypeAudio.Valid() || !CallTypeAudioVideo.Valid() {
		t.Fatal("known call types must be valid")
	}
	if CallType("video").Valid() {
		t.Fatal("unknown call type reported valid")
	}
	if CallTypeAudio.HasVideo() || !CallTypeAudioVideo.HasVideo() {
		t.Fatal("HasVideo mismatch")
	}
}
