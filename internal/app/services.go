package app

import (
	"context"
	"time"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/callsetup"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/storage"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/petervdpas/goopcall/internal/viewer/routes"
)

// services is everything one peer directory runs.
type services struct {
	setup *callsetup.Client
	db    *storage.DB // nil when history is disabled
	ctrl  *call.Controller
}

// newServices builds the collaborators from cfg. acq overrides the capture
// backend; nil means local devices.
func newServices(peerDir string, cfg config.Config, token string, acq media.Acquirer) (*services, error) {
	s := &services{
		setup: callsetup.NewClient(cfg.CallServer.BaseURL, seconds(cfg.CallServer.RequestTimeout)),
	}

	if cfg.History.Enabled {
		db, err := storage.Open(util.ResolvePath(peerDir, cfg.History.DBPath))
		if err != nil {
			return nil, err
		}
		s.db = db
		s.prune(cfg.History.RetentionDays)
	}

	if acq == nil {
		acq = &media.DeviceAcquirer{
			LogFn: func(level, msg string) {
				if level == "error" {
					log.Errorf("MEDIA: %s", msg)
					return
				}
				log.Warnf("MEDIA: %s", msg)
			},
		}
	}

	opts := controllerOptions(cfg, token)
	opts.Setup = s.setup
	opts.Acquirer = acq
	if s.db != nil {
		opts.Recorder = s.db
	}
	s.ctrl = call.New(opts)
	return s, nil
}

// controllerOptions maps config onto the parts of call.Options that do not
// need live collaborators.
func controllerOptions(cfg config.Config, token string) call.Options {
	return call.Options{
		LoopToken: token,
		Media: media.Constraints{
			Audio:        cfg.Media.Audio,
			Video:        cfg.Media.Video,
			MaxWidth:     cfg.Media.MaxWidth,
			MaxHeight:    cfg.Media.MaxHeight,
			PreferredCam: cfg.Media.PreferredCam,
			PreferredMic: cfg.Media.PreferredMic,
		},
		Signaling: signaling.Options{
			HandshakeTimeout: seconds(cfg.Signaling.HandshakeTimeout),
			WriteTimeout:     seconds(cfg.Signaling.WriteTimeout),
		},
	}
}

// reload applies a changed config file. Only the call server address and
// log level take effect live; the setup client is read at the start of each
// attempt, so an attempt in flight keeps the old address.
func (s *services) reload(cfg config.Config) {
	if old := s.setup.BaseURL(); old != util.NormalizeURL(cfg.CallServer.BaseURL) {
		s.setup.SetBaseURL(cfg.CallServer.BaseURL)
		log.Infof("CONFIG: call server now %q (next attempt)", cfg.CallServer.BaseURL)
	}
	applyLogLevel(cfg.Log.Level)
}

func (s *services) history() routes.History {
	if s.db == nil {
		return nil
	}
	return s.db
}

func (s *services) Close() {
	s.ctrl.Close()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warnf("STORAGE: close: %v", err)
		}
	}
}

func (s *services) prune(days int) {
	if days <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultFetchTimeout)
	defer cancel()
	n, err := s.db.Prune(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		log.Warnf("STORAGE: prune: %v", err)
		return
	}
	if n > 0 {
		log.Infof("STORAGE: pruned %d attempts older than %d days", n, days)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
