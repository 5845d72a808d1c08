package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRecoverPanics(t *testing.T) {
	srv := testServer(t, nil)
	h := withRequestID(srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Code != "internal_error" {
		t.Errorf("code = %q, want internal_error", body.Code)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	srv := testServer(t, nil)
	body := `{"enabled":true,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/power", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 400", w.Code)
	}
}

func TestErrorCode(t *testing.T) {
	tests := map[int]string{
		http.StatusBadRequest:          "bad_request",
		http.StatusNotFound:            "not_found",
		http.StatusServiceUnavailable:  "service_unavailable",
		http.StatusInternalServerError: "internal_error",
		599:                            "error",
	}
	for status, want := range tests {
		if got := errorCode(status); got != want {
			t.Errorf("errorCode(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 50, false},
		{"limit=10", 10, false},
		{"limit=200", 200, false},
		{"limit=201", 0, true},
		{"limit=0", 0, true},
		{"limit=ten", 0, true},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query) //nolint:errcheck // fixed inputs
		got, err := intParam(q, "limit", 50, 1, 200)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("intParam(%q) = %d, %v", tt.query, got, err)
		}
	}
}

func TestTimeParam(t *testing.T) {
	for _, raw := range []string{"2026-10-18T09:00:00Z", "2026-10-18T09:00:00.123+02:00"} {
		got, err := timeParam(url.Values{"since": {raw}}, "since")
		if err != nil || got.IsZero() || got.Location().String() != "UTC" {
			t.Errorf("timeParam(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := timeParam(url.Values{"since": {"yesterday"}}, "since"); err == nil {
		t.Error("timeParam(yesterday) succeeded")
	}
}
