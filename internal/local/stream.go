package local

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/lmbridge/internal/lmerr"
)

// EventHandler receives decoded events in receipt order. It runs on the
// stream's reader goroutine and must not block.
type EventHandler func(Event)

// Stream is an open local websocket subscription.
type Stream struct {
	client  *Client
	handler EventHandler
	dialer  *websocket.Dialer

	done    context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// OpenStream connects to the machine's event stream. The first dial is
// synchronous; later drops are retried with backoff until Close.
func (c *Client) OpenStream(ctx context.Context, handler EventHandler) (*Stream, error) {
	if handler == nil {
		handler = func(Event) {}
	}
	done, cancel := context.WithCancel(context.Background())
	s := &Stream{
		client:  c,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: c.cfg.Timeout},
		done:    done,
		cancel:  cancel,
	}
	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Connected reports whether the websocket is currently up.
func (s *Stream) Connected() bool { return s.connected.Load() }

// Close stops the stream and waits for the reader. Safe to call twice.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.cancel()

		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck // best effort on shutdown
			conn.Close()
		}
		s.wg.Wait()
		s.connected.Store(false)
	})
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	if s.closing.Load() {
		return ErrStreamClosed
	}
	url := "ws://" + s.client.hostPort() + "/api/v1/streaming"
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.client.cfg.Token)

	conn, resp, err := s.dialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			if statusErr := lmerr.FromResponse(resp.StatusCode, resp.Header, url, nil); statusErr != nil {
				return statusErr
			}
		}
		return unreachable(s.client.cfg.Host, err)
	}

	s.connMu.Lock()
	if s.closing.Load() {
		s.connMu.Unlock()
		conn.Close()
		return ErrStreamClosed
	}
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
	s.client.log().Info("local stream connected", "host", s.client.cfg.Host)
	return nil
}

func (s *Stream) run() {
	defer s.wg.Done()
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn != nil {
			err := s.readLoop(conn)
			s.connected.Store(false)
			if s.closing.Load() {
				return
			}
			s.client.log().Warn("local stream dropped", "host", s.client.cfg.Host, "error", err)
			conn.Close()
		}

		if !s.reconnect() {
			return
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		events, err := ParseMessage(raw)
		if err != nil {
			s.client.log().Warn("skipping undecodable local event", "host", s.client.cfg.Host, "error", err)
		}
		for _, ev := range events {
			s.dispatch(ev)
		}
	}
}

func (s *Stream) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.client.log().Error("local event handler panic recovered", "event", ev.EventName(), "panic", r)
		}
	}()
	s.handler(ev)
}

func (s *Stream) reconnect() bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.client.cfg.ReconnectInitial
	b.MaxInterval = s.client.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	op := func() error {
		if s.closing.Load() {
			return backoff.Permanent(ErrStreamClosed)
		}
		ctx, cancel := context.WithTimeout(s.done, s.client.cfg.Timeout)
		defer cancel()
		return s.connect(ctx)
	}
	notify := func(err error, wait time.Duration) {
		s.client.log().Warn("local stream reconnect failed", "host", s.client.cfg.Host, "retry_in", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.done), notify); err != nil {
		return false
	}
	return !s.closing.Load()
}
