package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

type Checker struct {
	DBPing  func(ctx context.Context) error
	RPCPing func(ctx context.Context) error
	// Checkpoint reports the last acknowledged height, if any.
	Checkpoint func() (uint64, bool)
}

// Handler serves /healthz as JSON; any failing ping turns the response into a 503.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			if err := checker.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if checker.RPCPing != nil {
			if err := checker.RPCPing(ctx); err != nil {
				status["rpc"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["rpc"] = "ok"
			}
		}
		if checker.Checkpoint != nil {
			if h, ok := checker.Checkpoint(); ok {
				status["checkpoint"] = strconv.FormatUint(h, 10)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Serve starts a minimal /healthz server. Extra handlers (e.g. /metrics) may be mounted.
func Serve(addr string, checker Checker, extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(checker))
	for path, h := range extra {
		mux.Handle(path, h)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
