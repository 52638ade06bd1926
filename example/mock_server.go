package main

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// StartMockStatusServer runs a status backend on addr. Per application id it
// answers deterministically with one of: success, retry (503 with a
// Retry-After of one second) or failure (404). Latency varies between
// minLatency and minLatency+150ms so two backends take turns winning races.
func StartMockStatusServer(addr string, minLatency time.Duration) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /applications/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		select {
		case <-time.After(minLatency + time.Duration(rand.Intn(150))*time.Millisecond):
		case <-r.Context().Done():
			return
		}

		switch mockOutcome(id) {
		case "retry":
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
		case "failure":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "approved"}); err != nil {
				slog.Error("failed to write response", "error", err)
			}
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "addr", addr, "error", err)
	}
}

// mockOutcome picks an outcome from the id; ids prefixed with "retry-" or
// "fail-" force that outcome.
func mockOutcome(id string) string {
	switch {
	case strings.HasPrefix(id, "retry-"):
		return "retry"
	case strings.HasPrefix(id, "fail-"):
		return "failure"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	switch h.Sum32() % 5 {
	case 0:
		return "retry"
	case 1:
		return "failure"
	default:
		return "success"
	}
}
