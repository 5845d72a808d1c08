package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// DefaultPort is the machine-local API port.
const DefaultPort = 8081

const (
	defaultTimeout          = 5 * time.Second
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = time.Minute
	maxConfigBytes          = 1 << 20
)

// Config configures a local Client.
type Config struct {
	Host  string
	Port  int
	Token string

	Timeout          time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	HTTPClient *http.Client
}

// Client is a machine-local API client.
type Client struct {
	cfg  Config
	http *http.Client

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a local client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, ErrNoHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = defaultReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc, logger: discard}, nil
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

// Host returns the machine address.
func (c *Client) Host() string { return c.cfg.Host }

func (c *Client) hostPort() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Config fetches the machine configuration. A 403 means the token is
// stale (lmerr.ErrAuth); an unreachable machine fails with
// lmerr.ErrConnection so the caller can fall back to the cloud.
func (c *Client) Config(ctx context.Context) (*model.LocalConfig, error) {
	raw, err := c.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	return model.ParseLocalConfig(raw)
}

// GrinderConfig fetches a Pico grinder's configuration.
func (c *Client) GrinderConfig(ctx context.Context) (*model.GrinderConfig, error) {
	raw, err := c.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	var cfg model.GrinderConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: grinder config: %w", model.ErrMalformed, err)
	}
	return &cfg, nil
}

func (c *Client) fetchConfig(ctx context.Context) ([]byte, error) {
	url := "http://" + c.hostPort() + "/api/v1/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unreachable(c.cfg.Host, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBytes))
	if err != nil {
		return nil, unreachable(c.cfg.Host, err)
	}
	if err := lmerr.FromResponse(resp.StatusCode, resp.Header, url, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// unreachable maps every transport failure to ErrConnection. A local
// timeout means the machine is not there, not that a retry will help.
func unreachable(host string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", lmerr.ErrConnection, host, err)
}
