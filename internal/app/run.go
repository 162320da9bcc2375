// Package app wires a peer directory's config into a running call
// controller and its HTTP surface.
package app

import (
	"context"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/petervdpas/goopcall/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
	// Token is the loop token every start dials. Empty is allowed; starts
	// then fail with missing_conversation_info.
	Token string
	// Open launches the system browser at the viewer once it listens.
	Open bool
}

// Run serves the call API for one peer directory until ctx is done.
func Run(ctx context.Context, opt Options) error {
	logBuf := viewer.NewLogBuffer(800)
	pipe := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	defer pipe.Close()
	go logBuf.Follow(pipe)

	applyLogLevel(opt.Cfg.Log.Level)
	logBanner(opt.PeerDir, opt.CfgPath)

	svc, err := newServices(opt.PeerDir, opt.Cfg, opt.Token, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := config.Watch(ctx, opt.CfgPath, svc.reload); err != nil {
		log.Warnf("CONFIG: hot reload disabled: %v", err)
	}

	listenAddr, url := NormalizeLocalViewer(opt.Cfg.Viewer.HTTPAddr)
	if opt.Open {
		go func() {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := waitListening(wctx, listenAddr); err != nil {
				log.Warnf("VIEWER: not up: %v", err)
				return
			}
			if err := util.OpenURL(url); err != nil {
				log.Warnf("VIEWER: open browser: %v", err)
			}
		}()
	}

	return viewer.Start(ctx, listenAddr, viewer.Viewer{
		Call:    svc.ctrl,
		History: svc.history(),
		Logs:    logBuf,
	})
}

// applyLogLevel sets every subsystem to level. Config validation already
// rejected unknown levels; a failure here only means a subsystem is not
// registered yet.
func applyLogLevel(level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	if err := logging.SetLogLevel("*", level); err != nil {
		log.Warnf("log level %q: %v", level, err)
	}
}
