package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/proto"
)

// SetupClient exchanges a loop token for session credentials.
type SetupClient interface {
	RequestSessionCredentials(ctx context.Context, token string, callType proto.CallType) (proto.SessionCredentials, error)
}

// Gate is the per-attempt media permission gate.
type Gate interface {
	Acquire(ctx context.Context, c media.Constraints) (media.Stream, error)
	Reset()
}

// Channel is the per-attempt signaling channel.
type Channel interface {
	Open(ctx context.Context, creds proto.SessionCredentials)
	Events() <-chan proto.ProgressEvent
	NotifyMediaReady() error
	Cancel()
}

// Attempt is one outgoing call's lifetime. Only the controller loop touches
// its fields; gate and channel are never shared between attempts.
type Attempt struct {
	ID        string
	LoopToken string
	CallType  proto.CallType
	StartedAt time.Time

	// Credentials is set once setup succeeded and never changed afterwards.
	Credentials *proto.SessionCredentials
	Reason      proto.TerminationReason

	gate    Gate
	channel Channel

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	tornDown bool
}

// newAttempt leaves gate and channel for the caller, which needs the ID first.
func newAttempt(parent context.Context, token string, ct proto.CallType) *Attempt {
	ctx, cancel := context.WithCancel(parent)
	return &Attempt{
		ID:        uuid.NewString(),
		LoopToken: token,
		CallType:  ct,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// short is the attempt ID prefix used in log lines.
func (a *Attempt) short() string {
	if len(a.ID) > 8 {
		return a.ID[:8]
	}
	return a.ID
}

// teardown resets the gate and cancels the channel exactly once, whether or
// not either was ever opened. It reports whether this call did the work.
func (a *Attempt) teardown() bool {
	did := false
	a.once.Do(func() {
		did = true
		a.tornDown = true
		a.cancel()
		a.gate.Reset()
		a.channel.Cancel()
		log.Debugf("CALL [%s]: torn down", a.short())
	})
	return did
}
