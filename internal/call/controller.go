// Package call coordinates a single outgoing call from "start" to "ended" or
// "failed".
//
// The Controller is the only writer of call state. User commands, media-layer
// callbacks, setup results, permission results and signaling events are all
// funnelled into one control loop, run through Transition, and the resulting
// Effects are applied there. Results from a superseded attempt are tagged with
// its ID and dropped.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/callsetup"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("call")

const (
	defaultHistory   = 64
	subscriberBuffer = 64
)

// AttemptRecord is what gets written to call history when an attempt ends.
type AttemptRecord struct {
	ID        string
	LoopToken string
	CallType  proto.CallType
	Outcome   Outcome
	State     State
	Reason    proto.TerminationReason
	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder persists finished attempts.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// Options wires a Controller to its collaborators.
type Options struct {
	// LoopToken identifies the call target. Empty makes every start fail
	// with NoteMissingInfo.
	LoopToken string
	Setup     SetupClient
	// Media holds the configured device limits. Video is only requested for
	// audio-video calls.
	Media media.Constraints

	// NewGate and NewChannel build fresh collaborators for each attempt.
	NewGate    func(attemptID string) Gate
	NewChannel func() Channel

	Acquirer  media.Acquirer
	Signaling signaling.Options

	Recorder Recorder
	History  int
}

// Snapshot is the read-only view of the controller.
type Snapshot struct {
	State     State                   `json:"state"`
	AttemptID string                  `json:"attempt_id,omitempty"`
	CallType  proto.CallType          `json:"call_type,omitempty"`
	Reason    proto.TerminationReason `json:"reason,omitempty"`
	SettingUp bool                    `json:"setting_up"`
	MediaUp   bool                    `json:"media_up"`
	Since     int64                   `json:"since"`
}

// Update is pushed to subscribers after every transition.
type Update struct {
	Snapshot     Snapshot      `json:"snapshot"`
	Notification *Notification `json:"notification,omitempty"`
}

// Step is one entry of the transition log.
type Step struct {
	At        int64                   `json:"at"`
	AttemptID string                  `json:"attempt_id,omitempty"`
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Event     EventKind               `json:"event"`
	Reason    proto.TerminationReason `json:"reason,omitempty"`
}

type command struct {
	ev    Event
	reply chan error
}

type result struct {
	attemptID string
	ev        Event
}

// Controller owns at most one Attempt at a time.
type Controller struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	cmds     chan command
	inbox    chan result
	done     chan struct{}
	loopDone chan struct{}
	stop     sync.Once

	steps *util.RingBuffer[Step]

	mu     sync.RWMutex
	snap   Snapshot
	subs   map[chan Update]struct{}
	closed bool

	// Owned by the loop goroutine.
	phase Phase
	att   *Attempt
}

// New starts the control loop. Call Close to stop it.
func New(opts Options) *Controller {
	if opts.History <= 0 {
		opts.History = defaultHistory
	}
	if opts.NewGate == nil {
		acq := opts.Acquirer
		if acq == nil {
			acq = &media.DeviceAcquirer{}
		}
		opts.NewGate = func(id string) Gate { return media.NewGate(acq, id) }
	}
	if opts.NewChannel == nil {
		sig := opts.Signaling
		opts.NewChannel = func() Channel { return signaling.New(sig) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		cmds:     make(chan command),
		inbox:    make(chan result, 16),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		steps:    util.NewRingBuffer[Step](opts.History),
		subs:     make(map[chan Update]struct{}),
		phase:    Phase{State: StateStart},
		snap:     Snapshot{State: StateStart, Since: proto.NowMillis()},
	}
	go c.loop()
	return c
}

// ── Commands ──

// StartCall begins a new attempt. The state is START with SettingUp set when
// it returns; the setup request runs in the background.
func (c *Controller) StartCall(ct proto.CallType) error {
	if !ct.Valid() {
		return ErrInvalidCallType
	}
	return c.send(Event{Kind: EventStartCall, CallType: ct, MissingToken: c.opts.LoopToken == ""})
}

// CancelPending aborts the current attempt (local hangup once connected).
func (c *Controller) CancelPending() error { return c.send(Event{Kind: EventCancel}) }

// Retry leaves FAILURE, END or EXPIRED for a clean START.
func (c *Controller) Retry() error { return c.send(Event{Kind: EventRetry}) }

// AcknowledgeEnd leaves END once the user has seen it.
func (c *Controller) AcknowledgeEnd() error { return c.send(Event{Kind: EventAckEnd}) }

// OnLocalAndRemoteStreamsConnected is called by the media layer once both the
// local publisher and the remote subscriber are up.
func (c *Controller) OnLocalAndRemoteStreamsConnected() error {
	return c.send(Event{Kind: EventStreamsConnected})
}

func (c *Controller) OnPeerHangup() error { return c.send(Event{Kind: EventPeerHangup}) }

func (c *Controller) OnNetworkDisconnected() error {
	return c.send(Event{Kind: EventNetworkDisconnected})
}

// OnConnectionError ends a connected call. err is logged and handed to the
// view layer; the call still ends.
func (c *Controller) OnConnectionError(err error) error {
	if err == nil {
		err = errors.New("unknown connection error")
	}
	return c.send(Event{Kind: EventConnectionError, Err: err})
}

func (c *Controller) send(ev Event) error {
	cmd := command{ev: ev, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// ── Read side ──

// State returns the current snapshot.
func (c *Controller) State() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Transitions returns the most recent transitions, oldest first.
func (c *Controller) Transitions() []Step { return c.steps.Snapshot() }

// Subscribe returns a channel of updates and a cancel func. A subscriber that
// falls behind loses updates rather than stalling the controller.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Close tears down the current attempt and stops the loop. Idempotent.
func (c *Controller) Close() {
	c.stop.Do(func() { close(c.done) })
	<-c.loopDone
}

// ── Control loop ──

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		case cmd := <-c.cmds:
			cmd.reply <- c.apply(cmd.ev)
		case r := <-c.inbox:
			if !c.current(r.attemptID) {
				log.Debugf("CALL [%.8s]: dropping stale %s", r.attemptID, r.ev.Kind)
				continue
			}
			if err := c.apply(r.ev); err != nil {
				log.Debugf("CALL [%s]: %v", c.att.short(), err)
			}
		}
	}
}

func (c *Controller) current(id string) bool {
	return c.att != nil && c.att.ID == id && !c.att.tornDown
}

func (c *Controller) apply(ev Event) error {
	next, fx, err := Transition(c.phase, ev)
	if err != nil {
		return err
	}
	prev := c.phase

	if fx.NewAttempt {
		c.begin(ev.CallType)
	}
	att := c.att
	if att != nil {
		if ev.Kind == EventSetupSucceeded && ev.Credentials != nil {
			creds := *ev.Credentials
			att.Credentials = &creds
		}
		if fx.Teardown {
			att.teardown()
		}
		if fx.Outcome != OutcomeNone {
			att.Reason = fx.Reason
			c.record(att, fx.Outcome, next.State)
		}
	}
	c.phase = next
	if fx.Release {
		c.att = nil
	}
	c.logStep(prev, next, ev, att)

	if att != nil && !fx.Release {
		switch {
		case fx.RequestSetup:
			go c.requestSetup(att)
		case fx.AcquireMedia:
			go c.acquire(att)
		case fx.OpenChannel:
			c.openChannel(att)
		case fx.NotifyMediaReady:
			if err := att.channel.NotifyMediaReady(); err != nil {
				log.Warnf("CALL [%s]: media-up not sent: %v", att.short(), err)
			}
		}
	}
	if fx.Notify != nil && fx.Notify.Level == "error" {
		log.Errorf("CALL [%s]: %s %s", c.label(att), fx.Notify.Key, fx.Notify.Detail)
	}
	c.publish(fx.Notify)
	return nil
}

func (c *Controller) label(att *Attempt) string {
	if att == nil {
		return "-"
	}
	return att.short()
}

// begin replaces the current attempt with a fresh one.
func (c *Controller) begin(ct proto.CallType) {
	if c.att != nil {
		c.att.teardown()
	}
	att := newAttempt(c.ctx, c.opts.LoopToken, ct)
	att.gate = c.opts.NewGate(att.ID)
	att.channel = c.opts.NewChannel()
	c.att = att
	log.Infof("CALL [%s]: new %s attempt", att.short(), ct)
}

func (c *Controller) requestSetup(att *Attempt) {
	if c.opts.Setup == nil {
		c.deliver(att, Event{Kind: EventSetupFailed, Err: callsetup.ErrNoServer})
		return
	}
	creds, err := c.opts.Setup.RequestSessionCredentials(att.ctx, att.LoopToken, att.CallType)
	ev := Event{Kind: EventSetupSucceeded, Credentials: &creds}
	switch {
	case err == nil:
	case callsetup.IsExpired(err):
		ev = Event{Kind: EventSetupExpired, Err: err}
	default:
		ev = Event{Kind: EventSetupFailed, Err: err}
	}
	c.deliver(att, ev)
}

func (c *Controller) acquire(att *Attempt) {
	cons := c.opts.Media
	cons.Audio = true
	cons.Video = cons.Video && att.CallType.HasVideo()
	_, err := att.gate.Acquire(att.ctx, cons)
	switch {
	case err == nil:
		c.deliver(att, Event{Kind: EventPermissionGranted})
	case errors.Is(err, media.ErrReset), att.ctx.Err() != nil:
		// Attempt is gone; nothing to report.
	default:
		c.deliver(att, Event{Kind: EventPermissionDenied, Err: err})
	}
}

func (c *Controller) openChannel(att *Attempt) {
	if att.Credentials == nil {
		// Unreachable: PENDING is only entered after setup succeeded.
		log.Errorf("CALL [%s]: no credentials to open channel", att.short())
		return
	}
	att.channel.Open(att.ctx, *att.Credentials)
	go c.pump(att)
}

// pump forwards one channel's events until it closes.
func (c *Controller) pump(att *Attempt) {
	for pe := range att.channel.Events() {
		var ev Event
		switch pe.Kind {
		case proto.ProgressAlerting:
			ev = Event{Kind: EventAlerting}
		case proto.ProgressConnecting:
			ev = Event{Kind: EventConnecting}
		case proto.ProgressTerminated:
			ev = Event{Kind: EventTerminated, Reason: pe.Reason}
		default:
			continue
		}
		c.deliver(att, ev)
	}
}

func (c *Controller) deliver(att *Attempt, ev Event) {
	select {
	case c.inbox <- result{attemptID: att.ID, ev: ev}:
	case <-c.done:
	}
}

func (c *Controller) record(att *Attempt, o Outcome, s State) {
	log.Infof("CALL [%s]: attempt %s (%s %s)", att.short(), o, s, att.Reason)
	if c.opts.Recorder == nil {
		return
	}
	rec := AttemptRecord{
		ID:        att.ID,
		LoopToken: att.LoopToken,
		CallType:  att.CallType,
		Outcome:   o,
		State:     s,
		Reason:    att.Reason,
		StartedAt: att.StartedAt,
		EndedAt:   time.Now(),
	}
	ctx, cancel := context.WithTimeout(c.ctx, util.ShortTimeout)
	defer cancel()
	if err := c.opts.Recorder.RecordAttempt(ctx, rec); err != nil {
		log.Warnf("CALL [%s]: history: %v", att.short(), err)
	}
}

func (c *Controller) logStep(prev, next Phase, ev Event, att *Attempt) {
	step := Step{
		At:     proto.NowMillis(),
		From:   prev.String(),
		To:     next.String(),
		Event:  ev.Kind,
		Reason: ev.Reason,
	}
	if att != nil {
		step.AttemptID = att.ID
	}
	c.steps.Push(step)
	if prev.State != next.State {
		log.Infof("CALL [%s]: %s -> %s (%s)", c.label(att), prev.State, next.State, ev.Kind)
	} else {
		log.Debugf("CALL [%s]: %s -> %s (%s)", c.label(att), prev, next, ev.Kind)
	}
}

func (c *Controller) publish(n *Notification) {
	snap := Snapshot{
		State:     c.phase.State,
		SettingUp: c.phase.SettingUp,
		MediaUp:   c.phase.MediaUp,
	}
	if c.att != nil {
		snap.AttemptID = c.att.ID
		snap.CallType = c.att.CallType
		snap.Reason = c.att.Reason
	}

	c.mu.Lock()
	if snap.State == c.snap.State {
		snap.Since = c.snap.Since
	} else {
		snap.Since = proto.NowMillis()
	}
	c.snap = snap
	u := Update{Snapshot: snap, Notification: n}
	for ch := range c.subs {
		select {
		case ch <- u:
		default:
			log.Warnf("CALL: subscriber behind, dropping update (%s)", snap.State)
		}
	}
	c.mu.Unlock()
}

func (c *Controller) shutdown() {
	if c.att != nil {
		c.att.teardown()
		c.att = nil
	}
	c.cancel()

	c.mu.Lock()
	c.closed = true
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.mu.Unlock()
	log.Debugf("CALL: controller closed in %s", c.phase)
}
