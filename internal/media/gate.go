// Package media guards access to local audio/video capture.
//
// The Gate wraps an Acquirer (the platform "get user media" primitive) with a
// cancellable, idempotent-reset contract: whatever the gate acquired is
// released on Reset, no matter why the call attempt ended.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("media")

var (
	ErrDenied          = errors.New("media: permission denied")
	ErrAcquireInFlight = errors.New("media: acquire already outstanding")
	ErrAlreadyGranted  = errors.New("media: permission already granted")
	ErrReset           = errors.New("media: gate reset during acquire")
)

// Constraints describes what to capture.
type Constraints struct {
	Audio        bool
	Video        bool
	MaxWidth     int
	MaxHeight    int
	PreferredCam string
	PreferredMic string
}

func (c Constraints) String() string {
	switch {
	case c.Audio && c.Video:
		return "camera and microphone"
	case c.Video:
		return "camera"
	case c.Audio:
		return "microphone"
	default:
		return "no devices"
	}
}

// Stream is a granted local media handle. The gate only checks presence.
type Stream interface {
	Close() error
}

// Acquirer asks the platform for media. It may block for as long as a human
// takes to answer a permission prompt and must honor ctx cancellation.
type Acquirer interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, c Constraints) (Stream, error)

func (f AcquirerFunc) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	return f(ctx, c)
}

// Gate obtains permission at most once per call attempt.
type Gate struct {
	acq   Acquirer
	label string

	mu      sync.Mutex
	gen     uint64
	pending bool
	cancel  context.CancelFunc
	stream  Stream
}

func NewGate(acq Acquirer, label string) *Gate {
	return &Gate{acq: acq, label: label}
}

// Acquire blocks until the acquirer grants or denies. Denials wrap ErrDenied.
// A second Acquire while one is outstanding or granted is a programming error
// and fails immediately. If Reset runs while Acquire waits, any stream that
// still arrives is released and ErrReset is returned.
func (g *Gate) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	g.mu.Lock()
	if g.pending {
		g.mu.Unlock()
		return nil, ErrAcquireInFlight
	}
	if g.stream != nil {
		g.mu.Unlock()
		return nil, ErrAlreadyGranted
	}
	g.pending = true
	gen := g.gen
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	log.Debugf("MEDIA [%s]: requesting %s", g.label, c)
	s, err := g.acq.GetUserMedia(ctx, c)
	cancel()

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		if s != nil {
			_ = s.Close()
		}
		log.Debugf("MEDIA [%s]: acquisition finished after reset; released", g.label)
		return nil, ErrReset
	}
	g.pending = false
	g.cancel = nil
	if err == nil && s == nil {
		err = ErrDenied
	}
	if err != nil {
		g.mu.Unlock()
		if !errors.Is(err, ErrDenied) {
			err = fmt.Errorf("%w: %v", ErrDenied, err)
		}
		log.Infof("MEDIA [%s]: %v", g.label, err)
		return nil, err
	}
	g.stream = s
	g.mu.Unlock()
	log.Infof("MEDIA [%s]: %s granted", g.label, c)
	return s, nil
}

// Granted reports whether the gate currently holds a stream.
func (g *Gate) Granted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream != nil
}

// Reset releases any held stream and abandons an outstanding acquisition.
// Idempotent; afterwards a new Acquire is always legal.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.gen++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.pending = false
	s := g.stream
	g.stream = nil
	g.mu.Unlock()

	if s != nil {
		if err := s.Close(); err != nil {
			log.Warnf("MEDIA [%s]: release: %v", g.label, err)
		}
		log.Infof("MEDIA [%s]: local media released", g.label)
	}
}
