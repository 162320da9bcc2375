package app

import (
	"context"
	"net"
	"strings"
	"time"
)

// NormalizeLocalViewer pins the viewer to loopback. Wildcard hosts become
// 127.0.0.1 so the call API is never exposed on the network. It returns the
// listen address and the URL of the state endpoint.
func NormalizeLocalViewer(cfgAddr string) (listenAddr, stateURL string) {
	a := strings.TrimSpace(cfgAddr)
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return a, "http://" + a + "/api/call/state"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	listenAddr = net.JoinHostPort(host, port)
	return listenAddr, "http://" + listenAddr + "/api/call/state"
}

// waitListening polls addr until it accepts a TCP connection or ctx ends.
func waitListening(ctx context.Context, addr string) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		var d net.Dialer
		dctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		c, err := d.DialContext(dctx, "tcp", addr)
		cancel()
		if err == nil {
			_ = c.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func logBanner(peerDir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Info("goopcall peer scope")
	log.Infof(" Peer folder : %s", peerDir)
	log.Infof(" Config file : %s", cfgPath)
	log.Info(" One controller, one call at a time.")
	log.Info("────────────────────────────────────────")
}
