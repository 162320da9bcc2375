package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/proto"
)

type DialOptions struct {
	PeerDir  string
	Cfg      config.Config
	Token    string
	CallType proto.CallType

	// In answers the permission prompt; Out gets the prompt and progress.
	In  io.Reader
	Out io.Writer
	// Capture runs after the user allows access. Nil means local devices.
	Capture media.Acquirer
}

// Dial drives one attempt from a terminal and returns the state it settled
// in. Cancelling ctx is the user's cancel: it aborts a pending attempt and
// hangs up a connected one.
func Dial(ctx context.Context, opt DialOptions) (call.State, error) {
	applyLogLevel(opt.Cfg.Log.Level)

	capture := opt.Capture
	if capture == nil {
		capture = &media.DeviceAcquirer{}
	}
	prompt := &media.PromptAcquirer{In: opt.In, Out: opt.Out, Next: capture}

	svc, err := newServices(opt.PeerDir, opt.Cfg, opt.Token, prompt)
	if err != nil {
		return "", err
	}
	defer svc.Close()

	updates, unsubscribe := svc.ctrl.Subscribe()
	defer unsubscribe()

	if err := svc.ctrl.StartCall(opt.CallType); err != nil {
		return svc.ctrl.State().State, err
	}

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			err := svc.ctrl.CancelPending()
			if errors.Is(err, call.ErrNotAllowed) {
				return svc.ctrl.State().State, nil
			}
			if err != nil {
				return svc.ctrl.State().State, err
			}
		case u, ok := <-updates:
			if !ok {
				return svc.ctrl.State().State, call.ErrClosed
			}
			printUpdate(opt.Out, u)
			if settled(u.Snapshot) {
				return u.Snapshot.State, nil
			}
		}
	}
}

// settled reports whether a headless attempt has nothing left to wait for.
func settled(s call.Snapshot) bool {
	switch s.State {
	case call.StateFailure, call.StateEnd, call.StateExpired:
		return true
	case call.StateStart:
		return !s.SettingUp
	}
	return false
}

func printUpdate(w io.Writer, u call.Update) {
	s := u.Snapshot
	switch {
	case s.SettingUp:
		fmt.Fprintf(w, "… requesting session (%s)\n", s.CallType)
	case s.State == call.StateConnected && s.MediaUp:
		fmt.Fprintln(w, "● media up")
	case s.State == call.StateConnected:
		fmt.Fprintln(w, "● connected (Ctrl+C to hang up)")
	default:
		fmt.Fprintf(w, "%s\n", s.State)
	}
	if n := u.Notification; n != nil {
		if n.Detail != "" {
			fmt.Fprintf(w, "  [%s] %s: %s\n", n.Level, n.Key, n.Detail)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", n.Level, n.Key)
		}
	}
}
