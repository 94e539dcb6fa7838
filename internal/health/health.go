package health

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Checker func(ctx context.Context) error

type mux interface {
	Handle(pattern string, handler http.Handler)
}

const checkTimeout = 2 * time.Second

// Register adds /healthz (liveness) and /readyz (readiness) endpoints.
// Readiness fails when any named check fails; the body lists the failures.
func Register(mux mux, checks map[string]Checker) {
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		if failed := run(ctx, checks); len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + strings.Join(failed, ", ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
}

func run(ctx context.Context, checks map[string]Checker) []string {
	var failed []string
	for name, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}
