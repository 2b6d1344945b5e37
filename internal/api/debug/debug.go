// Package debug serves profiling endpoints on a separate listener so they are
// never reachable through the public API port.
package debug

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/arl/statsviz"
)

// Mux returns a mux with the pprof handlers and the statsviz runtime
// dashboard at /debug/statsviz/.
func Mux() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("failed to register statsviz: %w", err)
	}
	return mux, nil
}
