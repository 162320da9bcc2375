// Package callsetup exchanges a loop token for session credentials.
package callsetup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("callsetup")

var (
	ErrMissingToken = errors.New("callsetup: missing token")
	ErrInvalidData  = errors.New("callsetup: invalid data received")
	ErrNoServer     = errors.New("callsetup: no call server configured")
)

// SetupError is a structured, code-bearing failure from the call server.
type SetupError struct {
	Status  int
	Errno   int
	Message string
}

func (e *SetupError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("callsetup: %d %s (errno %d)", e.Status, msg, e.Errno)
}

// IsExpired reports whether the server rejected the token as invalid or expired.
func (e *SetupError) IsExpired() bool { return e.Errno == proto.ErrnoInvalidToken }

// IsExpired reports whether err carries errno 105.
func IsExpired(err error) bool {
	var se *SetupError
	return errors.As(err, &se) && se.IsExpired()
}

// Client talks to the REST call-setup endpoint. Each request is single-shot;
// nothing is retried.
type Client struct {
	HTTP *http.Client

	mu      sync.RWMutex
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = util.DefaultFetchTimeout
	}
	return &Client{
		baseURL: util.NormalizeURL(strings.TrimSpace(baseURL)),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server the next request goes to.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL swaps the server for subsequent requests. In-flight requests
// keep the URL they started with.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = util.NormalizeURL(strings.TrimSpace(baseURL))
	c.mu.Unlock()
}

// RequestSessionCredentials posts to {base}/calls/{token}.
func (c *Client) RequestSessionCredentials(ctx context.Context, token string, callType proto.CallType) (proto.SessionCredentials, error) {
	if token == "" {
		return proto.SessionCredentials{}, ErrMissingToken
	}
	base := c.BaseURL()
	if base == "" {
		return proto.SessionCredentials{}, ErrNoServer
	}

	b, err := json.Marshal(proto.SetupRequest{CallType: callType})
	if err != nil {
		return proto.SessionCredentials{}, err
	}
	u := base + "/calls/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return proto.SessionCredentials{}, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return proto.SessionCredentials{}, fmt.Errorf("callsetup: post %s/calls: %w", base, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		se := &SetupError{Status: resp.StatusCode}
		var body proto.SetupErrorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
			se.Errno = body.Errno
			se.Message = body.Message
		}
		log.Warnf("SETUP: %v", se)
		return proto.SessionCredentials{}, se
	}

	var creds proto.SessionCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return proto.SessionCredentials{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if !creds.Complete() {
		return proto.SessionCredentials{}, ErrInvalidData
	}
	log.Debugf("SETUP: credentials received for call %s", creds.CallID)
	return creds, nil
}
