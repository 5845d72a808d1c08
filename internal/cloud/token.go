package cloud

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/lmbridge/internal/auth"
	"github.com/nerrad567/lmbridge/internal/lmerr"
)

const tokenFlight = "token"

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// tokenManager hands out access tokens. Sign-in and refresh share one
// singleflight key so at most one renewal is in flight.
type tokenManager struct {
	c     *Client
	store auth.Store
	group singleflight.Group
	now   func() time.Time

	mu     sync.Mutex
	token  *auth.Token
	loaded bool
	stale  bool
}

func newTokenManager(c *Client, store auth.Store) *tokenManager {
	return &tokenManager{c: c, store: store, now: time.Now}
}

// AccessToken returns a usable access token, renewing it when needed.
func (m *tokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	tok, stale := m.token, m.stale
	m.mu.Unlock()
	if tok != nil && !stale && !tok.NeedsRefresh(m.now()) {
		return tok.AccessToken, nil
	}

	tok, err := m.flight(ctx, m.renew)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// flight runs fn once for all concurrent callers. It runs detached from
// the first caller's cancellation, bounded by renewTimeout; each caller
// stops waiting when its own ctx ends.
func (m *tokenManager) flight(ctx context.Context, fn func(context.Context) (*auth.Token, error)) (*auth.Token, error) {
	ch := m.group.DoChan(tokenFlight, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.renewTimeout())
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*auth.Token), nil //nolint:forcetypeassert // flights only return *auth.Token
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// renewTimeout covers a rejected refresh followed by a sign-in.
func (m *tokenManager) renewTimeout() time.Duration {
	return 2 * m.c.cfg.RequestTimeout
}

// Invalidate marks token as rejected so the next call refreshes it.
// A token that was already replaced is left alone.
func (m *tokenManager) Invalidate(token string) {
	m.mu.Lock()
	if m.token != nil && m.token.AccessToken == token {
		m.stale = true
	}
	m.mu.Unlock()
}

func (m *tokenManager) signInNow(ctx context.Context) (*auth.Token, error) {
	return m.flight(ctx, func(ctx context.Context) (*auth.Token, error) {
		tok, err := m.c.signIn(ctx)
		if err != nil {
			return nil, err
		}
		m.set(ctx, tok)
		return tok, nil
	})
}

func (m *tokenManager) renew(ctx context.Context) (*auth.Token, error) {
	m.loadStored(ctx)

	m.mu.Lock()
	tok, stale := m.token, m.stale
	m.mu.Unlock()

	now := m.now()
	if tok != nil && !stale && !tok.NeedsRefresh(now) {
		return tok, nil
	}

	var next *auth.Token
	var err error
	if tok == nil || tok.Expired(now) || tok.RefreshToken == "" {
		next, err = m.c.signIn(ctx)
	} else {
		next, err = m.c.refresh(ctx, tok.RefreshToken)
		if errors.Is(err, lmerr.ErrAuth) {
			m.c.log().Info("refresh token rejected, signing in again")
			next, err = m.c.signIn(ctx)
		}
	}
	if err != nil {
		return nil, err
	}
	m.set(ctx, next)
	return next, nil
}

func (m *tokenManager) loadStored(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded || m.store == nil {
		return
	}
	m.loaded = true
	if m.token != nil {
		return
	}
	tok, err := m.store.LoadToken(ctx, m.c.cfg.Username)
	if err != nil {
		if !errors.Is(err, auth.ErrNotStored) {
			m.c.log().Warn("loading stored token failed", "error", err)
		}
		return
	}
	m.token = tok
}

func (m *tokenManager) set(ctx context.Context, tok *auth.Token) {
	m.mu.Lock()
	m.token = tok
	m.stale = false
	m.loaded = true
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveToken(ctx, m.c.cfg.Username, tok); err != nil && !errors.Is(err, auth.ErrNotStored) {
			m.c.log().Warn("persisting token failed", "error", err)
		}
	}
}

func (c *Client) signIn(ctx context.Context) (*auth.Token, error) {
	var resp tokenResponse
	body := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	if err := c.send(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/signin", body, &resp, nil, ""); err != nil {
		return nil, err
	}
	c.log().Debug("signed in", "username", c.cfg.Username)
	return auth.NewToken(resp.AccessToken, resp.RefreshToken, time.Now()), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*auth.Token, error) {
	var resp tokenResponse
	body := map[string]string{"username": c.cfg.Username, "refreshToken": refreshToken}
	if err := c.send(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/refreshtoken", body, &resp, nil, ""); err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return auth.NewToken(resp.AccessToken, resp.RefreshToken, time.Now()), nil
}
