package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceAcquirer captures local camera/microphone via pion/mediadevices.
// Drivers are only registered on linux (V4L2 + malgo); elsewhere every
// request is denied and the browser path is expected to handle media.
type DeviceAcquirer struct {
	// LogFn, if non-nil, receives (level, msg) for hardware problems that
	// should be shown to the user.
	LogFn func(level, msg string)
}

// deviceStream owns the captured tracks.
type deviceStream struct {
	tracks []mediadevices.Track
	once   sync.Once
}

func (s *deviceStream) Close() error {
	var errs []error
	s.once.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Kinds lists the kinds of the captured tracks.
func (s *deviceStream) Kinds() []webrtc.RTPCodecType {
	kinds := make([]webrtc.RTPCodecType, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.Kind())
	}
	return kinds
}

// GetUserMedia runs the capture off the caller's goroutine so ctx can abandon
// it. A stream that arrives after ctx is done is closed right away.
func (d *DeviceAcquirer) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	type result struct {
		s   Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := d.capture(c)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		return r.s, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.s != nil {
				_ = r.s.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *DeviceAcquirer) warn(msg string) {
	log.Warnf("MEDIA: %s", msg)
	if d.LogFn != nil {
		d.LogFn("warn", msg)
	}
}

func (d *DeviceAcquirer) capture(c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, errors.New("no media requested")
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		d.warn("no media devices found by pion/mediadevices")
	}
	for _, dev := range devices {
		log.Debugf("MEDIA: device kind=%v label=%q", dev.Kind, dev.Label)
	}

	// GetUserMedia fails as a unit if either track can't be opened. When both
	// were asked for, fall back to audio-only so a missing or busy camera
	// does not sink the whole call.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	var attempts []attempt
	switch {
	case c.Video && c.Audio:
		attempts = []attempt{{true, true, "video+audio"}, {false, true, "audio-only"}}
	case c.Video:
		attempts = []attempt{{true, false, "video-only"}}
	default:
		attempts = []attempt{{false, true, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// Raw formats only; some cameras expose an MJPEG node that
				// produces malformed frames.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				if c.MaxWidth > 0 {
					mc.Width = prop.IntRanged{Max: c.MaxWidth}
				}
				if c.MaxHeight > 0 {
					mc.Height = prop.IntRanged{Max: c.MaxHeight}
				}
				if c.PreferredCam != "" {
					mc.DeviceID = prop.StringExact(c.PreferredCam)
				}
			}
		}
		if a.audio {
			constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
				if c.PreferredMic != "" {
					mc.DeviceID = prop.StringExact(c.PreferredMic)
				}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			d.warn("GetUserMedia (" + a.label + ") failed: " + err.Error())
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track := track
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("MEDIA: local %s track ended: %v", track.Kind(), err)
				}
			})
		}
		ds := &deviceStream{tracks: tracks}
		log.Infof("MEDIA: local media captured (%s): %d tracks %v", a.label, len(tracks), ds.Kinds())
		return ds, nil
	}
	return nil, lastErr
}
