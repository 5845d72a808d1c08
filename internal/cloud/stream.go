package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second

	// recentCommands is how many confirmed command ids a stream remembers
	// for SendCommand callers that register after the push arrived.
	recentCommands = 64
)

// DashboardHandler receives pushed dashboard updates. It runs on the
// stream's reader goroutine and must not block.
type DashboardHandler func(update *model.DashboardUpdate)

// DashboardStream is a live subscription to one device's dashboard.
type DashboardStream struct {
	client  *Client
	serial  string
	handler DashboardHandler
	dialer  *websocket.Dialer

	done    context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup

	connMu    sync.Mutex
	conn      *websocket.Conn
	subID     string
	connected atomic.Bool

	// lastUUID is only touched by the reader goroutine.
	lastUUID string

	pendingMu sync.Mutex
	pending   map[string]chan model.CommandResponse
	confirmed map[string]model.CommandResponse
	order     []string
}

// OpenDashboardStream connects and subscribes to serial's dashboard. The
// first connection is made synchronously so bad credentials surface here;
// later drops are retried in the background until Close.
func (c *Client) OpenDashboardStream(ctx context.Context, serial string, handler DashboardHandler) (*DashboardStream, error) {
	if handler == nil {
		handler = func(*model.DashboardUpdate) {}
	}
	done, cancel := context.WithCancel(context.Background())
	s := &DashboardStream{
		client:    c,
		serial:    serial,
		handler:   handler,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		done:      done,
		cancel:    cancel,
		pending:   make(map[string]chan model.CommandResponse),
		confirmed: make(map[string]model.CommandResponse),
	}

	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	if prev := c.stream(serial); prev != nil {
		c.log().Warn("replacing open dashboard stream", "serial", serial)
	}
	c.attach(s)

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Serial returns the subscribed device.
func (s *DashboardStream) Serial() string { return s.serial }

// Connected reports whether the websocket is currently up.
func (s *DashboardStream) Connected() bool { return s.connected.Load() }

// Close unsubscribes, closes the socket, stops reconnecting and waits for
// the reader to exit. It is safe to call more than once.
func (s *DashboardStream) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.cancel()

		s.connMu.Lock()
		conn, subID := s.conn, s.subID
		s.conn = nil
		s.connMu.Unlock()

		if conn != nil {
			unsub := frame{command: stompUnsubscribe, headers: []header{{"id", subID}}}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // best effort on shutdown
			_ = conn.WriteMessage(websocket.TextMessage, unsub.encode()) //nolint:errcheck // best effort on shutdown
			conn.Close()
		}
		s.wg.Wait()
		s.client.detach(s)
		s.connected.Store(false)
	})
	return nil
}

// connect dials, performs the STOMP handshake and subscribes.
func (s *DashboardStream) connect(ctx context.Context) error {
	if s.closing.Load() {
		return ErrStreamClosed
	}
	token, err := s.client.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	h := http.Header{}
	if err := s.client.sign(h); err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.dialer.DialContext(ctx, s.client.cfg.StreamURL, h)
	if err != nil {
		if resp != nil {
			if statusErr := lmerr.FromResponse(resp.StatusCode, resp.Header, s.client.cfg.StreamURL, nil); statusErr != nil {
				if isUnauthorized(statusErr) {
					s.client.tokens.Invalidate(token)
				}
				return statusErr
			}
		}
		return lmerr.FromTransport(err)
	}

	subID, err := s.handshake(conn, token)
	if err != nil {
		conn.Close()
		return err
	}

	s.connMu.Lock()
	if s.closing.Load() {
		s.connMu.Unlock()
		conn.Close()
		return ErrStreamClosed
	}
	s.conn, s.subID = conn, subID
	s.connMu.Unlock()
	s.connected.Store(true)
	s.client.log().Info("dashboard stream connected", "serial", s.serial)
	return nil
}

func (s *DashboardStream) handshake(conn *websocket.Conn, token string) (string, error) {
	host := "lion.lamarzocco.io"
	if u, err := url.Parse(s.client.cfg.StreamURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	connect := frame{command: stompConnect, headers: []header{
		{"host", host},
		{"accept-version", "1.2,1.1,1.0"},
		{"heart-beat", "0,0"},
		{"Authorization", "Bearer " + token},
	}}
	if err := writeFrame(conn, connect); err != nil {
		return "", err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout)) //nolint:errcheck // deadline errors surface on read
	reply, err := readFrame(conn)
	if err != nil {
		return "", err
	}
	switch reply.command {
	case stompConnected:
	case stompError:
		msg, _ := reply.header("message")
		return "", fmt.Errorf("%w: %w: %s", ErrHandshake, lmerr.ErrAuth, msg)
	default:
		return "", fmt.Errorf("%w: unexpected %s", ErrHandshake, reply.command)
	}
	_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck // clearing a deadline cannot fail

	subID := uuid.NewString()
	sub := frame{command: stompSubscribe, headers: []header{
		{"destination", "/ws/sn/" + s.serial + "/dashboard"},
		{"ack", "auto"},
		{"id", subID},
		{"content-length", "0"},
	}}
	if err := writeFrame(conn, sub); err != nil {
		return "", err
	}
	return subID, nil
}

func writeFrame(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // deadline errors surface on write
	if err := conn.WriteMessage(websocket.TextMessage, f.encode()); err != nil {
		return lmerr.FromTransport(err)
	}
	return nil
}

// readFrame reads until a non-heartbeat frame arrives.
func readFrame(conn *websocket.Conn) (frame, error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return frame{}, lmerr.FromTransport(err)
		}
		f, ok, err := decodeFrame(raw)
		if err != nil {
			return frame{}, err
		}
		if ok {
			return f, nil
		}
	}
}

// run is the single reader goroutine. It owns reconnection.
func (s *DashboardStream) run() {
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
			s.client.log().Warn("dashboard stream dropped", "serial", s.serial, "error", err)
			conn.Close()
		}

		if !s.reconnect() {
			return
		}
	}
}

func (s *DashboardStream) readLoop(conn *websocket.Conn) error {
	for {
		f, err := readFrame(conn)
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				s.client.log().Warn("dropping malformed frame", "serial", s.serial, "error", err)
				continue
			}
			return err
		}
		switch f.command {
		case stompMessage:
			s.deliver(f.body)
		case stompError:
			msg, _ := f.header("message")
			s.client.log().Warn("stomp error frame", "serial", s.serial, "message", msg, "body", string(f.body))
		}
	}
}

func (s *DashboardStream) deliver(body []byte) {
	var update model.DashboardUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.client.log().Warn("dropping undecodable dashboard update", "serial", s.serial, "error", err)
		return
	}
	if update.UUID != "" {
		if update.UUID == s.lastUUID {
			s.client.log().Debug("dropping replayed dashboard update", "serial", s.serial, "uuid", update.UUID)
			return
		}
		s.lastUUID = update.UUID
	}
	for _, cmd := range update.Commands {
		if cmd.Status.Final() {
			s.confirm(cmd)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.client.log().Error("dashboard handler panic recovered", "serial", s.serial, "panic", r)
		}
	}()
	s.handler(&update)
}

// reconnect retries connect with capped exponential backoff until it
// succeeds or the stream is closed. The closing flag is checked before
// every dial and the sleep between dials ends as soon as Close runs.
func (s *DashboardStream) reconnect() bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.client.cfg.ReconnectInitial
	b.MaxInterval = s.client.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if s.closing.Load() {
			return backoff.Permanent(ErrStreamClosed)
		}
		attempt++
		ctx, cancel := context.WithTimeout(s.done, s.client.cfg.RequestTimeout)
		defer cancel()
		return s.connect(ctx)
	}
	notify := func(err error, wait time.Duration) {
		s.client.log().Warn("dashboard stream reconnect failed",
			"serial", s.serial, "attempt", attempt, "retry_in", wait.String(), "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.done), notify); err != nil {
		return false
	}
	return !s.closing.Load()
}

// awaitCommand waits for the stream to confirm ack.ID. It reports
// CommandTimeout when the machine stays silent for timeout or the stream
// closes, and ctx's error when the caller gives up.
func (s *DashboardStream) awaitCommand(ctx context.Context, ack model.CommandResponse, timeout time.Duration) (model.CommandResponse, error) {
	s.pendingMu.Lock()
	if got, ok := s.confirmed[ack.ID]; ok {
		s.pendingMu.Unlock()
		return got, nil
	}
	ch := make(chan model.CommandResponse, 1)
	s.pending[ack.ID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, ack.ID)
		s.pendingMu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case got := <-ch:
		return got, nil
	case <-ctx.Done():
		return ack, ctx.Err()
	case <-timer.C:
	case <-s.done.Done():
	}
	return model.CommandResponse{ID: ack.ID, Status: model.CommandTimeout}, nil
}

func (s *DashboardStream) confirm(cmd model.CommandResponse) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if ch, ok := s.pending[cmd.ID]; ok {
		select {
		case ch <- cmd:
		default:
		}
	}
	if _, seen := s.confirmed[cmd.ID]; !seen {
		s.order = append(s.order, cmd.ID)
		if len(s.order) > recentCommands {
			delete(s.confirmed, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.confirmed[cmd.ID] = cmd
}
