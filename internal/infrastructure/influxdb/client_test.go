package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu        sync.Mutex
	lines     []string
	queries   []string
	writeCode int
	down      bool
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ping":
		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.queries = append(f.queries, r.URL.RawQuery)
		if f.writeCode != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeCode)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`)) //nolint:errcheck // Test server
			return
		}
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "lmbridge-test-token",
		Org:           "home",
		Bucket:        "coffee",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client, fake
}

// waitLines flushes and polls until n lines arrived.
func waitLines(t *testing.T, client *influxdb.Client, fake *fakeInflux, n int) []string {
	t.Helper()
	client.Flush()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := fake.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d lines, got %v", n, fake.written())
	return nil
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client, _ := connectFake(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() should return nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() with defaulted batch settings error = %v", err)
	}
	client.Close() //nolint:errcheck // Test cleanup
}

func TestHealthCheck_ServerDown(t *testing.T) {
	client, fake := connectFake(t)
	fake.setDown(true)

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when the server is unhealthy")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	client, _ := connectFake(t)
	client.Close() //nolint:errcheck // Test setup

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Twice(t *testing.T) {
	client, _ := connectFake(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteCounters(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteCounters(influxdb.Counters{
		Serial:       "LM012345",
		Model:        "GS3AV",
		TotalCoffee:  1520,
		TotalFlushes: 310,
		Drinks:       map[string]int{"A": 900, "B": 620},
	})

	line := waitLines(t, client, fake, 1)[0]
	for _, want := range []string{
		"coffee_counters,",
		"model=GS3AV",
		"serial=LM012345",
		"total_coffee=1520i",
		"total_flushes=310i",
		"drinks_A=900i",
		"drinks_B=620i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteBoilers(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteBoilers(influxdb.BoilerReading{
		Serial:        "LM012345",
		CoffeeCurrent: 92.5,
		CoffeeTarget:  93,
		SteamEnabled:  true,
		SteamTarget:   128,
	})

	line := waitLines(t, client, fake, 1)[0]
	for _, want := range []string{"boilers,serial=LM012345", "coffee_current=92.5", "steam_enabled=true", "steam_target=128"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteExtractionUsesShotTime(t *testing.T) {
	client, fake := connectFake(t)
	at := time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC)

	client.WriteExtraction(influxdb.Extraction{Serial: "LM012345", Time: at, Seconds: 27.4, DoseMode: "Dose1"})

	line := waitLines(t, client, fake, 1)[0]
	if !strings.Contains(line, "dose_mode=Dose1") || !strings.Contains(line, "seconds=27.4") {
		t.Errorf("line = %q", line)
	}
	if !strings.HasSuffix(line, " "+strconv.FormatInt(at.UnixNano(), 10)) {
		t.Errorf("line %q should end with timestamp %s", line, strconv.FormatInt(at.UnixNano(), 10))
	}
}

func TestWritePointTargetsBucket(t *testing.T) {
	client, fake := connectFake(t)

	client.WritePoint("bridge", map[string]string{"host": "kitchen"}, map[string]interface{}{"devices": 2})
	waitLines(t, client, fake, 1)

	fake.mu.Lock()
	query := fake.queries[0]
	fake.mu.Unlock()
	if !strings.Contains(query, "bucket=coffee") || !strings.Contains(query, "org=home") {
		t.Errorf("write query = %q", query)
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	client, fake := connectFake(t)
	client.Close() //nolint:errcheck // Test setup

	client.WriteCounters(influxdb.Counters{Serial: "LM012345"})
	client.Flush()
	time.Sleep(50 * time.Millisecond)

	if lines := fake.written(); len(lines) != 0 {
		t.Errorf("lines after Close = %v", lines)
	}
}

func TestSetOnError_CallbackInvoked(t *testing.T) {
	client, fake := connectFake(t)
	fake.mu.Lock()
	fake.writeCode = http.StatusBadRequest
	fake.mu.Unlock()

	errs := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	client.WritePoint("bridge", nil, map[string]interface{}{"x": 1})
	client.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("error callback not invoked")
	}
}
