package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
	if c := NewClient(WithTimeout(0)); c.Timeout != 0 {
		t.Errorf("zero timeout = %v, want 0", c.Timeout)
	}
}

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getBody(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := echoUserAgent(t)

	tests := []struct {
		name   string
		opts   []ClientOption
		preset string
		check  func(string) bool
	}{
		{"default", nil, "", func(ua string) bool { return strings.HasPrefix(ua, "toolchat/") }},
		{"custom", []ClientOption{WithUserAgent("TestBot/1.0")}, "", func(ua string) bool { return ua == "TestBot/1.0" }},
		{"disabled", []ClientOption{WithoutUserAgent()}, "", func(ua string) bool { return !strings.HasPrefix(ua, "toolchat/") }},
		{"preset wins", nil, "CustomBot/2.0", func(ua string) bool { return ua == "CustomBot/2.0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", srv.URL, nil)
			if tt.preset != "" {
				req.Header.Set("User-Agent", tt.preset)
			}
			got := getBody(t, NewClient(tt.opts...), req)
			if !tt.check(got) {
				t.Errorf("User-Agent = %q", got)
			}
		})
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout: got %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout: got %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost: got %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("error details here")), 512); got != "error details here" {
		t.Errorf("ReadErrorBody() = %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader(strings.Repeat("x", 1000))), 10); len(got) != 10 {
		t.Errorf("expected 10 bytes, got %d", len(got))
	}
	if got := ReadErrorBody(nil, 512); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
	DrainAndClose(nil, 1024) // must not panic
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("X-Test") != "yes" {
				http.Error(w, "missing header", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"toolchat","count":3}`))
		case "/bad":
			w.Write([]byte(`{not json`))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(2 * time.Second))
	ctx := context.Background()

	var got struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := GetJSON(ctx, c, srv.URL+"/ok", &got, map[string]string{"X-Test": "yes"}); err != nil {
		t.Fatalf("GetJSON(/ok) error: %v", err)
	}
	if got.Name != "toolchat" || got.Count != 3 {
		t.Errorf("decoded %+v", got)
	}

	err := GetJSON(ctx, c, srv.URL+"/missing", &got, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("GetJSON(/missing) error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || !strings.Contains(se.Body, "nope") {
		t.Errorf("StatusError = %+v", se)
	}

	if err := GetJSON(ctx, c, srv.URL+"/bad", &got, nil); err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Errorf("GetJSON(/bad) error = %v, want decode error", err)
	}
}

// --- Retry transport tests ---

// failingRoundTripper simulates transient errors then succeeds.
type failingRoundTripper struct {
	failures int
	calls    int
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
		}
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		count     int
		wantErr   bool
		wantCalls int
	}{
		{"success first try", 0, 2, false, 1},
		{"recovers after one failure", 1, 2, false, 2},
		{"exhausts retries", 10, 2, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &failingRoundTripper{failures: tt.failures}
			rt := &retryTransport{base: ft, count: tt.count, delay: 5 * time.Millisecond}

			req, _ := http.NewRequest("GET", "http://example.com", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RoundTrip() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ft.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", ft.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected context cancellation error")
	}
	if ft.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", ft.calls)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 5 * time.Millisecond}

	// http.NewRequest sets GetBody for strings.Reader; clear it.
	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error (should not retry without GetBody)")
	}
	if ft.calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET", syscall.ECONNRESET, false},
		{"wrapped", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), true},
		{"OpError chain", &net.OpError{
			Op: "dial", Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
