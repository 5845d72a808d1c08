package cloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lmbridge/internal/auth"
)

// fakeCloud is an httptest stand-in for the customer-app API.
type fakeCloud struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	signIns   atomic.Int32
	refreshes atomic.Int32
	tokenSeq  atomic.Int32

	// signInDelay slows sign-in so concurrent callers overlap.
	signInDelay time.Duration

	// refreshStatus, when non-zero, is returned by /auth/refreshtoken.
	refreshStatus atomic.Int32

	peers      chan *stompPeer
	wsRejected atomic.Bool
	wsError    atomic.Bool
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{t: t, mux: http.NewServeMux(), peers: make(chan *stompPeer, 8)}

	f.mux.HandleFunc("POST /auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // checked below
		if body["password"] != "secret" {
			http.Error(w, `{"message":"bad credentials"}`, http.StatusUnauthorized)
			return
		}
		if f.signInDelay > 0 {
			time.Sleep(f.signInDelay)
		}
		f.signIns.Add(1)
		f.writeToken(w)
	})
	f.mux.HandleFunc("POST /auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		if s := f.refreshStatus.Load(); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		f.writeToken(w)
	})
	f.mux.HandleFunc("/ws/connect", f.serveStomp)

	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCloud) writeToken(w http.ResponseWriter) {
	n := f.tokenSeq.Add(1)
	writeJSON(w, map[string]string{
		"accessToken":  "access-" + strconv.Itoa(int(n)),
		"refreshToken": "refresh-" + strconv.Itoa(int(n)),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}

// requireAuth wraps h with a bearer check and installation header check.
func (f *fakeCloud) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderRequestSignature) == "" || r.Header.Get(auth.HeaderNonce) == "" {
			f.t.Errorf("%s %s: missing installation headers", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (f *fakeCloud) client(t *testing.T, mutate ...func(*Config)) *Client {
	t.Helper()
	key, err := auth.GenerateInstallationKey("test-installation")
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	cfg := Config{
		Username:         "user@example.com",
		Password:         "secret",
		BaseURL:          f.srv.URL,
		StreamURL:        "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/connect",
		CommandTimeout:   time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, key)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// stompPeer is the server side of one STOMP websocket session.
type stompPeer struct {
	conn        *websocket.Conn
	destination string
	writeMu     sync.Mutex
	unsub       atomic.Bool
	closed      chan struct{}
}

func (p *stompPeer) push(t *testing.T, body string) {
	t.Helper()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	msg := frame{command: stompMessage, headers: []header{{"destination", p.destination}}, body: []byte(body)}
	if err := p.conn.WriteMessage(websocket.TextMessage, msg.encode()); err != nil {
		t.Errorf("pushing message: %v", err)
	}
}

func (f *fakeCloud) serveStomp(w http.ResponseWriter, r *http.Request) {
	if f.wsRejected.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connect, err := readFrame(conn)
	if err != nil || connect.command != stompConnect {
		return
	}
	if f.wsError.Load() {
		reply := frame{command: stompError, headers: []header{{"message", "invalid token"}}}
		_ = conn.WriteMessage(websocket.TextMessage, reply.encode()) //nolint:errcheck // test server
		return
	}
	reply := frame{command: stompConnected, headers: []header{{"version", "1.2"}}}
	if err := conn.WriteMessage(websocket.TextMessage, reply.encode()); err != nil {
		return
	}
	sub, err := readFrame(conn)
	if err != nil || sub.command != stompSubscribe {
		return
	}
	dest, _ := sub.header("destination")

	p := &stompPeer{conn: conn, destination: dest, closed: make(chan struct{})}
	defer close(p.closed)
	f.peers <- p

	for {
		fr, err := readFrame(conn)
		if err != nil {
			return
		}
		if fr.command == stompUnsubscribe {
			p.unsub.Store(true)
		}
	}
}

func (f *fakeCloud) nextPeer(t *testing.T) *stompPeer {
	t.Helper()
	select {
	case p := <-f.peers:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream connection")
		return nil
	}
}
