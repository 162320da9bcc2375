package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/goopcall/internal/config"
)

// PromptInteractive walks through the settings a new peer directory needs.
// Empty answers keep the current value.
func PromptInteractive(r io.Reader, w io.Writer, peerDir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(r)

	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w, "goopcall interactive setup")
	fmt.Fprintf(w, " Peer folder : %s\n", peerDir)
	fmt.Fprintf(w, " Config file : %s\n", cfgPath)
	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w)

	cfg.CallServer.BaseURL = askString(in, w, "Call server base URL", cfg.CallServer.BaseURL)
	cfg.CallServer.RequestTimeout = askInt(in, w, "Setup request timeout seconds", cfg.CallServer.RequestTimeout)
	cfg.Viewer.HTTPAddr = askString(in, w, "Viewer HTTP addr", cfg.Viewer.HTTPAddr)

	cfg.Media.Video = askBool(in, w, "Use camera for audio-video calls", cfg.Media.Video)
	if cfg.Media.Video {
		cfg.Media.MaxWidth = askInt(in, w, "Max video width", cfg.Media.MaxWidth)
		cfg.Media.MaxHeight = askInt(in, w, "Max video height", cfg.Media.MaxHeight)
	}

	cfg.History.Enabled = askBool(in, w, "Keep call history", cfg.History.Enabled)
	if cfg.History.Enabled {
		cfg.History.DBPath = askString(in, w, "History database path", cfg.History.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, w io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(w, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, w io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(w, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter y or n.")
	}
}
