package statusclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"testing"
	"time"

	"github.com/jpalmerr/tandem"
)

func TestClient_GetStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    tandem.Response
		wantErr bool
	}{
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"42","status":"approved"}`))
			},
			want: tandem.SuccessResponse{ID: "42", Status: "approved"},
		},
		{
			name: "success without id uses requested id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":"pending"}`))
			},
			want: tandem.SuccessResponse{ID: "42", Status: "pending"},
		},
		{
			name: "retry with seconds",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: tandem.RetryResponse{Delay: 3 * time.Second},
		},
		{
			name: "retry without header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: tandem.RetryResponse{Delay: DefaultRetryAfter},
		},
		{
			name: "not found is failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			want: tandem.FailureResponse{},
		},
		{
			name: "server error is failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: tandem.FailureResponse{},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client, err := New(server.URL, nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer client.Close()

			got, err := client.GetStatus(context.Background(), "42")
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("GetStatus() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClient_RequestShape(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"a b","status":"ok"}`))
	}))
	defer server.Close()

	client, err := New(server.URL+"/", map[string]string{"Authorization": "Bearer token"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := client.GetStatus(context.Background(), "a b"); err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if gotPath != "/applications/a%20b/status" {
		t.Errorf("path = %q, want %q", gotPath, "/applications/a%20b/status")
	}
	if gotAuth != "Bearer token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token")
	}
}

func TestClient_HonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = client.GetStatus(ctx, "42")
	if err == nil {
		t.Fatal("GetStatus() expected error after cancellation, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetStatus() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("GetStatus() took %v after cancellation", elapsed)
	}
}

// TestClient_ConnectionReuse verifies that sequential requests to the same
// backend reuse pooled connections.
func TestClient_ConnectionReuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","status":"ok"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var reusedCount int
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reusedCount++
			}
		},
	}

	const numRequests = 5
	for i := 0; i < numRequests; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		if _, err := client.GetStatus(ctx, "1"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	expectedMinReuse := numRequests - 2 // allow some tolerance
	if reusedCount < expectedMinReuse {
		t.Errorf("expected at least %d reused connections, got %d out of %d requests",
			expectedMinReuse, reusedCount, numRequests)
	}
}

func TestClient_Close(t *testing.T) {
	client, err := New("http://example.com", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// idempotent
	client.Close()
	client.Close()

	var nilClient *Client
	nilClient.Close()
}

func TestNew_InvalidURL(t *testing.T) {
	tests := []string{
		"",
		"ftp://example.com",
		"example.com/path",
		"http://",
	}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			if _, err := New(u, nil); err == nil {
				t.Errorf("New(%q) expected error, got nil", u)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "empty", in: "", want: DefaultRetryAfter},
		{name: "seconds", in: "7", want: 7 * time.Second},
		{name: "zero", in: "0", want: 0},
		{name: "negative", in: "-4", want: DefaultRetryAfter},
		{name: "http date", in: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "past date", in: now.Add(-time.Minute).Format(http.TimeFormat), want: DefaultRetryAfter},
		{name: "garbage", in: "soon", want: DefaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.in, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
