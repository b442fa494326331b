package daemon

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// profiler serves runtime profiles on its own listener, apart from the API mux.
type profiler struct {
	ln  net.Listener
	srv *http.Server
}

// startProfiler binds addr and serves /debug/pprof/ until Close. Empty addr returns nil, nil; a
// bad or busy addr fails startup instead of being logged and ignored.
func startProfiler(addr string) (*profiler, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	p := &profiler{ln: ln, srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("pprof server stopped", "addr", addr, "err", err)
		}
	}()
	slog.Info("pprof listening", "addr", ln.Addr().String())
	return p, nil
}

func (p *profiler) Addr() string {
	if p == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	return p.srv.Close()
}
