package util

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	ShortTimeout        = 2 * time.Second
)

// ResolvePath places rel under base unless rel is absolute or starts with
// "~/", which expands to the user's home directory.
func ResolvePath(base, rel string) string {
	if rest, ok := strings.CutPrefix(rel, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(base, rel)
}

// NormalizeURL trims trailing slashes so paths can be appended with "+".
func NormalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// WriteJSONFile writes v as indented JSON. The file is written next to path
// and renamed into place, so a watcher never sees half a document.
func WriteJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var openers = map[string][]string{
	"linux":   {"xdg-open"},
	"darwin":  {"open"},
	"windows": {"cmd", "/c", "start"},
}

// OpenURL opens url in the system browser.
func OpenURL(url string) error {
	argv, ok := openers[runtime.GOOS]
	if !ok {
		return errors.New("unsupported platform")
	}
	return exec.Command(argv[0], append(argv[1:], url)...).Start()
}
