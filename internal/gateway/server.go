// Package gateway serves chat turns and live tool instances over HTTP and
// WebSocket.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"toolchat/internal/domain"
	"toolchat/internal/instance"
	"toolchat/internal/router"
	"toolchat/internal/templates"
	"toolchat/internal/toolstore"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway: port must be 0-65535")

// Deps are the components the gateway serves. Router and Registry are
// required; Templates and Store are optional.
type Deps struct {
	Router    *router.Router
	Registry  *instance.Registry
	Templates *templates.Library
	Store     *toolstore.SQLStore
	Logger    *slog.Logger
}

// Server is an HTTP server that optionally enforces Bearer token auth.
type Server struct {
	cfg     *domain.GatewayConfig
	deps    Deps
	handler http.Handler
	server  *http.Server

	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex

	trackMu sync.Mutex
	tracked map[string]func()
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
// Returns ErrInvalidPort if port is not in 0..65535.
func NewServer(cfg *domain.GatewayConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if deps.Router == nil || deps.Registry == nil {
		return nil, errors.New("gateway: router and registry are required")
	}
	s := &Server{cfg: cfg, deps: deps, tracked: make(map[string]func())}
	s.handler = s.routes()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.Default()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AllowedHosts(s.cfg.AllowedHosts))
	r.Use(RequestLogger(s.log()))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(api chi.Router) {
		api.Use(BearerAuth(s.cfg.AuthToken))

		api.Route("/api", func(r chi.Router) {
			r.Get("/templates", s.listTemplates)
			r.Post("/sessions/{session}/messages", s.postMessage)
			r.Route("/tools/{id}", func(r chi.Router) {
				r.Get("/", s.getTool)
				r.Delete("/", s.deleteTool)
				r.Put("/inputs/{input}", s.setInput)
				r.Post("/actions/{action}", s.runAction)
			})
		})
		api.Get("/ws", s.chatSocket)
		api.Get("/ws/tools/{id}", s.toolSocket)
	})
	return r
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the HTTP handler used by the server. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed. Returns nil when shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.log().Info("gateway: listening", "addr", s.Addr())

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(s.server, ctx); err != nil {
		return err
	}
	<-done
	s.untrackAll()
	return nil
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

// Track persists in through the configured store until it is deleted.
func (s *Server) Track(in *instance.Instance, sessionID string) {
	if s.deps.Store == nil || in == nil {
		return
	}
	cancel := s.deps.Store.Track(context.Background(), in, sessionID, s.log())
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if prev, ok := s.tracked[in.ID]; ok {
		prev()
	}
	s.tracked[in.ID] = cancel
}

func (s *Server) untrack(id string) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if cancel, ok := s.tracked[id]; ok {
		cancel()
		delete(s.tracked, id)
	}
}

func (s *Server) untrackAll() {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	for id, cancel := range s.tracked {
		cancel()
		delete(s.tracked, id)
	}
}
