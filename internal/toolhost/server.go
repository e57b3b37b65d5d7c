package toolhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Server exposes a Host over a loopback HTTP listener so an agent
// subprocess (which cannot call Go methods directly) can reach the tool
// host the way agentrt.CallOpts.ToolHostEndpoint.Addr advertises: one
// POST per tool call, the tool name as the path suffix, the JSON payload
// as the body, the JSON result (or a non-2xx status) as the response.
type Server struct {
	host *Host
	ln   net.Listener
	srv  *http.Server
}

// Listen starts a Server bound to an ephemeral loopback port and returns
// it already serving in a background goroutine. Addr() gives the value
// to hand to agentrt.CallOpts.ToolHost.
func Listen(h *Host) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("toolhost: listen: %w", err)
	}

	mux := http.NewServeMux()
	s := &Server{host: h, ln: ln}
	mux.HandleFunc("/tools/", s.handleInvoke)

	s.srv = &http.Server{Handler: mux}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

// Addr returns the "host:port" the running server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close shuts the server down, waiting up to 5 seconds for in-flight
// requests to drain.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" {
		http.Error(w, "missing tool name", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.host.Invoke(r.Context(), name, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}
