package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/goopcall/internal/util"
)

// FileName is the config file inside a peer directory.
const FileName = "goopcall.json"

type Config struct {
	CallServer CallServer `json:"call_server"`
	Signaling  Signaling  `json:"signaling"`
	Media      Media      `json:"media"`
	Viewer     Viewer     `json:"viewer"`
	History    History    `json:"history"`
	Log        Log        `json:"log"`
}

type CallServer struct {
	// Base URL of the REST call-setup endpoint, e.g. "https://loop.example.org/v1".
	// Empty means calls fail at setup until one is configured.
	BaseURL        string `json:"base_url"`
	RequestTimeout int    `json:"request_timeout_seconds"`
}

type Signaling struct {
	HandshakeTimeout int `json:"handshake_timeout_seconds"`
	WriteTimeout     int `json:"write_timeout_seconds"`
}

type Media struct {
	Audio        bool   `json:"audio"`
	Video        bool   `json:"video"` // false forces audio-only capture even for audio-video calls
	MaxWidth     int    `json:"max_width"`
	MaxHeight    int    `json:"max_height"`
	PreferredCam string `json:"preferred_cam"`
	PreferredMic string `json:"preferred_mic"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
}

type History struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"db_path"` // relative to the peer directory

	// Rows older than this are pruned at startup. 0 keeps everything.
	RetentionDays int `json:"retention_days"`
}

type Log struct {
	// go-log level applied to every subsystem: debug, info, warn, error.
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		CallServer: CallServer{
			BaseURL:        "",
			RequestTimeout: 10,
		},
		Signaling: Signaling{
			HandshakeTimeout: 10,
			WriteTimeout:     5,
		},
		Media: Media{
			Audio:     true,
			Video:     true,
			MaxWidth:  640,
			MaxHeight: 480,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8790",
		},
		History: History{
			Enabled:       true,
			DBPath:        "data/calls.db",
			RetentionDays: 90,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Call server
	if b := strings.TrimSpace(c.CallServer.BaseURL); b != "" {
		if err := validateBaseURL(b); err != nil {
			return fmt.Errorf("call_server.base_url: %w", err)
		}
	}
	if c.CallServer.RequestTimeout < 1 || c.CallServer.RequestTimeout > 120 {
		return errors.New("call_server.request_timeout_seconds must be 1..120")
	}

	// Signaling
	if c.Signaling.HandshakeTimeout < 1 || c.Signaling.HandshakeTimeout > 120 {
		return errors.New("signaling.handshake_timeout_seconds must be 1..120")
	}
	if c.Signaling.WriteTimeout < 1 || c.Signaling.WriteTimeout > 60 {
		return errors.New("signaling.write_timeout_seconds must be 1..60")
	}

	// Media
	if !c.Media.Audio {
		return errors.New("media.audio must be true; every call needs a microphone")
	}
	if c.Media.MaxWidth < 0 || c.Media.MaxHeight < 0 {
		return errors.New("media.max_width and media.max_height must be >= 0")
	}

	// Viewer
	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}

	// History
	if c.History.Enabled && strings.TrimSpace(c.History.DBPath) == "" {
		return errors.New("history.db_path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
