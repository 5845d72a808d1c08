package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/auth"
	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Default endpoints and timings.
const (
	DefaultBaseURL   = "https://lion.lamarzocco.io/api/customer-app"
	DefaultStreamURL = "wss://lion.lamarzocco.io/ws/connect"

	defaultRequestTimeout   = 15 * time.Second
	defaultCommandTimeout   = 10 * time.Second
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 2 * time.Minute

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	Username string
	Password string

	// BaseURL is the customer-app REST root. Defaults to DefaultBaseURL.
	BaseURL string

	// StreamURL is the STOMP websocket endpoint. Defaults to DefaultStreamURL.
	StreamURL string

	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration

	// CommandTimeout is how long SendCommand waits for a pushed confirmation.
	CommandTimeout time.Duration

	// ReconnectInitial and ReconnectMax bound the stream reconnect backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client

	// Store persists tokens across restarts. Optional.
	Store auth.Store
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.StreamURL == "" {
		c.StreamURL = DefaultStreamURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = defaultReconnectInitial
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
}

// Client is a customer-app API client. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	key    *auth.InstallationKey
	tokens *tokenManager

	loggerMu sync.RWMutex
	logger   Logger

	streamsMu sync.Mutex
	streams   map[string]*DashboardStream
}

// New creates a Client signing requests with key.
func New(cfg Config, key *auth.InstallationKey) (*Client, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: installation key is required", lmerr.ErrAuth)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", lmerr.ErrAuth)
	}
	cfg.applyDefaults()

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	c := &Client{
		cfg:     cfg,
		http:    hc,
		key:     key,
		logger:  discard,
		streams: make(map[string]*DashboardStream),
	}
	c.tokens = newTokenManager(c, cfg.Store)
	return c, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = discard
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Username returns the account the client signs in as.
func (c *Client) Username() string { return c.cfg.Username }

// Authenticate signs in with the configured credentials, replacing any
// cached token. It fails with lmerr.ErrAuth on bad credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.signInNow(ctx)
	return err
}

// Register uploads the installation public key. It must succeed once
// before the first sign-in with a new key.
func (c *Client) Register(ctx context.Context) error {
	reg, err := c.key.Registration()
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/init", reg.Body, nil, reg.Headers, "")
}

// get issues an authenticated GET and decodes the response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.authed(ctx, http.MethodGet, path, nil, out)
}

// authed runs one request with the current access token. A 401 forces a
// token refresh and one retry; the second 401 is returned as is.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	url := c.cfg.BaseURL + path
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, url, body, out, nil, token)
		if attempt == 0 && isUnauthorized(err) {
			c.log().Debug("access token rejected, refreshing", "path", path)
			c.tokens.Invalidate(token)
			continue
		}
		return err
	}
}

func isUnauthorized(err error) bool {
	var se *lmerr.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// send performs one signed HTTP request.
func (c *Client) send(ctx context.Context, method, url string, body, out any, extra map[string]string, token string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.sign(req.Header); err != nil {
		return err
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return lmerr.FromTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return lmerr.FromTransport(err)
	}
	if err := lmerr.FromResponse(resp.StatusCode, resp.Header, url, raw); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrMalformed, url, err)
	}
	return nil
}

// sign adds the installation headers to h.
func (c *Client) sign(h http.Header) error {
	extra, err := c.key.ExtraHeaders()
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
	return nil
}

func (c *Client) attach(s *DashboardStream) {
	c.streamsMu.Lock()
	c.streams[s.serial] = s
	c.streamsMu.Unlock()
}

func (c *Client) detach(s *DashboardStream) {
	c.streamsMu.Lock()
	if c.streams[s.serial] == s {
		delete(c.streams, s.serial)
	}
	c.streamsMu.Unlock()
}

func (c *Client) stream(serial string) *DashboardStream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[serial]
}
