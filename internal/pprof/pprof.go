// Package pprof serves the runtime profiling endpoints on a separate
// listener so they never share a port with the chat API.
package pprof

import (
	"context"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"

	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/logger"
)

// Server exposes /debug/pprof on its own address.
type Server struct {
	addr       string
	httpServer *http.Server
	listener   net.Listener
	log        *logger.Logger
}

// NewServer creates a profiling server bound to addr, typically a
// loopback address like localhost:6060.
func NewServer(addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	return &Server{
		addr: addr,
		log:  log.WithPrefix("pprof"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", netpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)
	mux.Handle("/debug/pprof/goroutine", netpprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", netpprof.Handler("heap"))
	mux.Handle("/debug/pprof/block", netpprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", netpprof.Handler("mutex"))

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind pprof server: %w", err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: consts.Timeout5Seconds,
	}

	go func() {
		s.log.Info("Profiling available on http://%s/debug/pprof", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("pprof server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the profiling server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown pprof server: %w", err)
	}
	return nil
}
