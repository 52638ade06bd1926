// Standalone mock status backend for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockbackend --addr :9998
//	go run ./example/cmd/mockbackend --addr :9999 --latency 80ms
//
// Then in another terminal:
//
//	go run ./cmd/tandem status app-1 -c example/tandem.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		addr    string
		latency time.Duration
		retries int
	)

	cmd := &cobra.Command{
		Use:   "mockbackend",
		Short: "Run a mock status backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr, latency, retries)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9998", "listen address")
	cmd.Flags().DurationVar(&latency, "latency", 20*time.Millisecond, "minimum response latency")
	cmd.Flags().IntVar(&retries, "retries", 2, "retry responses sent for an id before it succeeds")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(addr string, latency time.Duration, retries int) error {
	fmt.Printf("Mock status backend starting on %s\n", addr)
	fmt.Printf("Each id gets %d retry response(s), then succeeds; ids starting with fail- return 404\n", retries)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var mu sync.Mutex
	seen := make(map[string]int)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /applications/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		select {
		case <-time.After(latency + time.Duration(rand.Intn(150))*time.Millisecond):
		case <-r.Context().Done():
			slog.Info("request cancelled", "id", id)
			return
		}

		if strings.HasPrefix(id, "fail-") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		mu.Lock()
		seen[id]++
		n := seen[id]
		mu.Unlock()

		if n <= retries {
			slog.Info("asking for retry", "id", id, "request", n)
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     id,
			"status": "approved",
		})
	})

	return http.ListenAndServe(addr, mux)
}
