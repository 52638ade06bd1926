package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePoller returns a fixed status and records requested ids.
type fakePoller struct {
	status tandem.ApplicationStatus
	mu     sync.Mutex
	ids    []string
}

func (f *fakePoller) GetStatus(_ context.Context, id string) tandem.ApplicationStatus {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	return f.status
}

type unknownStatus struct{ tandem.SuccessStatus }

func deliveryRecord(recipient, outcome string) store.DeliveryRecord {
	return store.DeliveryRecord{Recipient: recipient, Outcome: outcome, Attempts: 1, At: time.Now()}
}

func TestHandleStatus(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		status     tandem.ApplicationStatus
		wantCode   int
		wantFields map[string]any
		absent     []string
	}{
		{
			name:     "success",
			status:   tandem.SuccessStatus{ApplicationID: "app-1", Status: "approved"},
			wantCode: http.StatusOK,
			wantFields: map[string]any{
				"result": "success",
				"id":     "app-1",
				"status": "approved",
			},
			absent: []string{"attempt_count", "last_attempt_time"},
		},
		{
			name:     "failure after attempts",
			status:   tandem.FailureStatus{LastAttemptTime: at, AttemptCount: 3},
			wantCode: http.StatusOK,
			wantFields: map[string]any{
				"result":            "failure",
				"attempt_count":     float64(3),
				"last_attempt_time": "2024-06-01T10:00:00Z",
			},
		},
		{
			name:     "failure without attempts",
			status:   tandem.FailureStatus{},
			wantCode: http.StatusOK,
			wantFields: map[string]any{
				"result":        "failure",
				"attempt_count": float64(0),
			},
			absent: []string{"last_attempt_time"},
		},
		{
			name:     "unknown status",
			status:   unknownStatus{},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller := &fakePoller{status: tt.status}
			srv := NewServer(poller, nil, 0, testLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/applications/app-1/status", nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			if len(poller.ids) != 1 || poller.ids[0] != "app-1" {
				t.Errorf("poller ids = %v, want [app-1]", poller.ids)
			}
			if tt.wantFields == nil {
				return
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
			}
			for k, want := range tt.wantFields {
				if body[k] != want {
					t.Errorf("body[%q] = %v, want %v", k, body[k], want)
				}
			}
			for _, k := range tt.absent {
				if _, ok := body[k]; ok {
					t.Errorf("body should not contain %q: %v", k, body)
				}
			}
		})
	}
}

func TestHandler_Routes(t *testing.T) {
	srv := NewServer(&fakePoller{status: tandem.FailureStatus{}}, nil, 0, testLogger())
	h := srv.Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusNoContent},
		{http.MethodPost, "/api/applications/a/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/deliveries", http.StatusNotFound}, // no store
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleDeliveries(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(deliveryRecord("us/n2", store.OutcomeAbandoned))
	st.Update(deliveryRecord("eu/n1", store.OutcomeDelivered))

	srv := NewServer(nil, st, 0, testLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var body deliveriesView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(body.Deliveries) != 2 || body.Deliveries[0].Recipient != "eu/n1" {
		t.Errorf("deliveries = %+v, want eu/n1 first of 2", body.Deliveries)
	}
	if body.Totals != (store.Totals{Delivered: 1, Abandoned: 1}) {
		t.Errorf("totals = %+v, want 1 delivered and 1 abandoned", body.Totals)
	}
}

func TestHandleSSE_SnapshotThenUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(deliveryRecord("eu/n1", store.OutcomeDelivered))
	srv := NewServer(nil, st, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	st.Update(deliveryRecord("us/n2", store.OutcomeAbandoned))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2: %s", len(events), rec.Body.String())
	}
	if events[0].Recipient != "eu/n1" || events[1].Recipient != "us/n2" {
		t.Errorf("events = [%s %s], want [eu/n1 us/n2]", events[0].Recipient, events[1].Recipient)
	}
}

// nonFlushWriter is a ResponseWriter without http.Flusher.
type nonFlushWriter struct {
	header     http.Header
	statusCode int
}

func (n *nonFlushWriter) Header() http.Header       { return n.header }
func (n *nonFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (n *nonFlushWriter) WriteHeader(statusCode int)  { n.statusCode = statusCode }

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(nil, store.NewMemoryStore(), 0, testLogger())
	w := &nonFlushWriter{header: make(http.Header)}

	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

// TestHandleSSE_ConcurrentClientsShutdown verifies that every SSE handler
// exits once the server context is cancelled.
func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	srv := NewServer(nil, st, 0, testLogger())

	serverCtx, serverCancel := context.WithCancel(context.Background())

	const numClients = 10
	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
			started.Add(1)
			srv.handleSSE(httptest.NewRecorder(), req)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for started.Load() < numClients && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

// TestServer_ShutdownClosesSSE runs the real server and checks that an open
// SSE connection closes when the server context is cancelled.
func TestServer_ShutdownClosesSSE(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	st := store.NewMemoryStore()
	st.Update(deliveryRecord("eu/n1", store.OutcomeDelivered))
	srv := NewServer(nil, st, port, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/api/sse")
	if err != nil {
		t.Fatalf("GET /api/sse: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	connDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(connDone)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	srv := NewServer(nil, nil, ln.Addr().(*net.TCPAddr).Port, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	srv := NewServer(nil, nil, -1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with invalid port should return error")
	}
}

func TestRun_ReturnsAfterCancel(t *testing.T) {
	srv := NewServer(nil, nil, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func parseSSEEvents(body string) []store.DeliveryRecord {
	var events []store.DeliveryRecord
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var rec store.DeliveryRecord
		if err := json.Unmarshal([]byte(data), &rec); err == nil {
			events = append(events, rec)
		}
	}
	return events
}
