// Package toolbridge hosts a minimal MCP server over HTTP that the Runner
// starts before spawning the ACP child, per spec.md §4.7 step 2 and §4.10.
// The child dials it as just another MCP server entry; the bridge itself
// carries no persistence and resolves no credentials.
package toolbridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/happyhq/happy-acp/internal/logger"
	"github.com/happyhq/happy-acp/internal/metrics"
)

// Config controls the bridge's rate limit and HTTP surface.
type Config struct {
	// Addr is the loopback address to listen on. Empty picks "127.0.0.1:0"
	// so the Runner can read back the actual ephemeral port.
	Addr string

	// RequestsPerSecond and Burst bound the per-remote-address token
	// bucket guarding the bridge from a runaway child. If either is zero,
	// both fall back to defaultRPS and defaultBurst.
	RequestsPerSecond float64
	Burst             int
}

// Server is the tool bridge: an MCP server exposing a small built-in
// toolset over HTTP, rate-limited per caller.
type Server struct {
	mcpServer *mcp.Server
	limiter   *RateLimiter
	listener  net.Listener
	httpSrv   *http.Server
}

// New constructs a Server and binds its listener without starting to
// serve. Callers read Addr() to learn the bound port before wiring it
// into the child's environment or mcpServers list.
func New(cfg Config) (*Server, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	burst := cfg.Burst
	if rps <= 0 || burst <= 0 {
		rps, burst = defaultRPS, defaultBurst
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "happy-acp-tool-bridge",
		Version: "0.1.0",
	}, nil)
	registerBuiltinTools(mcpServer)

	s := &Server{
		mcpServer: mcpServer,
		limiter:   NewRateLimiter(rps, burst),
		listener:  ln,
	}
	s.httpSrv = &http.Server{Handler: s.buildHandler()}
	return s, nil
}

// Addr returns the bound loopback address, e.g. "127.0.0.1:54321".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the bridge's base HTTP URL for the MCP endpoint.
func (s *Server) URL() string {
	return "http://" + s.Addr() + "/mcp"
}

// Serve blocks, accepting connections on the bound listener. Call it in
// its own goroutine; Shutdown stops it.
func (s *Server) Serve() error {
	err := s.httpSrv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the bridge, waiting up to the given timeout
// for in-flight requests to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) buildHandler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	requestIDHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeySessionID, requestID)
		r = r.WithContext(ctx)

		logger.Info("tool bridge %s %s from %s [request_id=%s]", r.Method, r.URL.Path, r.RemoteAddr, requestID)
		mcpHandler.ServeHTTP(w, r)
	})

	rateLimited := RateLimitMiddleware(s.limiter)(requestIDHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealthCheck)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", metrics.BridgeMiddleware(rateLimited))
	mux.Handle("/mcp/", metrics.BridgeMiddleware(rateLimited))
	return mux
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
