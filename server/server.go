// Package server exposes the host to guests.
//
//	GET /bridge                  websocket → Session (one bridge.Channel per guest)
//	GET /wallpapers/{kind}/{title} saved background source for the preview surface
//	GET /healthz                 liveness and session count
//	GET /metrics                 prometheus
//
// ServeStream accepts framed TCP guests on a separate listener. Every session's channel shares
// the server's handler registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opaper/bridge"
	"opaper/codec"
	"opaper/handler"
	"opaper/library"
	"opaper/registry"
	"opaper/transport"
)

// Session is one connected guest.
type Session struct {
	ID      string
	Remote  string
	Channel *bridge.Channel
}

const DefaultShutdownTimeout = 5 * time.Second

type Server struct {
	registry   *handler.Registry // shared by every session
	logger     *slog.Logger
	origins    []string        // websocket Origin allow list
	codec      codec.CodecType // default when /bridge has no ?codec=
	library    *library.Library
	bridgeOpts []bridge.Option // applied to each session's channel
	gatherer   prometheus.Gatherer
	heartbeat  time.Duration // discovery lease keepalive

	discovery registry.Registry // nil: not advertised
	service   string
	endpoint  registry.Endpoint // Addr filled in by ServeListener when empty

	router    chi.Router
	onSession func(*Session)

	ctx    context.Context // parent of every session
	cancel context.CancelFunc

	// mu guards sessions, httpSrv, listeners and endpoint. startSession checks shutdown under
	// it, so no session is added after doShutdown has listed them.
	mu        sync.Mutex
	sessions  map[string]*Session
	httpSrv   *http.Server
	listeners []net.Listener

	wg           sync.WaitGroup // running sessions
	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error // result of the first Shutdown, returned by every later one
}

// New builds a server answering guests from reg.
func New(reg *handler.Registry, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry: reg,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/bridge", s.handleBridge)
	r.Get("/healthz", s.handleHealth)
	r.Get("/wallpapers/{kind}/{title}", s.handleWallpaper)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// OnSession registers fn to run, on its own goroutine, for every new session.
func (s *Server) OnSession(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSession = fn
}

// Handler returns the HTTP handler, for mounting in another router or in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the connected guests.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ct := s.codec
	if name := r.URL.Query().Get("codec"); name != "" {
		parsed, err := codec.ParseCodecType(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ct = parsed
	}
	ws, err := transport.Upgrader(s.origins).Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.Warn("Bridge upgrade failed", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "err", err)
		return
	}
	s.startSession(transport.NewWebsocketConn(ws, ct), r.RemoteAddr)
}

// startSession runs a channel over conn until it closes or the server shuts down. It returns nil,
// after closing conn, once Shutdown has begun.
func (s *Server) startSession(conn transport.Conn, remote string) *Session {
	sess := &Session{
		ID:     uuid.NewString(),
		Remote: remote,
	}
	logger := s.logger.With("session", sess.ID)
	opts := append([]bridge.Option{bridge.WithLogger(logger)}, s.bridgeOpts...)
	sess.Channel = bridge.New(conn, s.registry, opts...)

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.sessions[sess.ID] = sess
	onSession := s.onSession
	s.wg.Add(1)
	s.mu.Unlock()

	logger.Info("Guest connected", "remote", remote)
	go func() {
		defer s.wg.Done()
		err := sess.Channel.Serve(s.ctx)
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Guest session ended", "err", err)
			return
		}
		logger.Info("Guest disconnected")
	}()
	if onSession != nil {
		go onSession(sess)
	}
	return sess
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, n)
}

func (s *Server) handleWallpaper(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		http.NotFound(w, r)
		return
	}
	kind, err := library.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	// chi matches against RawPath when the request has one, leaving the segment escaped.
	title := chi.URLParam(r, "title")
	if r.URL.RawPath != "" {
		if title, err = url.PathUnescape(title); err != nil {
			http.NotFound(w, r)
			return
		}
	}
	bg, err := s.library.Get(r.Context(), kind, title)
	if errors.Is(err, library.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("Reading wallpaper", "kind", kind, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	contentType := "text/html; charset=utf-8"
	if kind == library.KindShader {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Last-Modified", bg.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Write([]byte(bg.Code))
}

// Serve listens on addr and serves HTTP until Shutdown or until ctx ends, which shuts the server
// down with DefaultShutdownTimeout. It advertises the server in the discovery registry, if one is
// configured, once the listener is up.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	if s.discovery != nil {
		s.mu.Lock()
		if s.endpoint.Addr == "" {
			s.endpoint.Addr = "ws://" + ln.Addr().String() + "/bridge"
		}
		ep := s.endpoint
		s.mu.Unlock()
		if err := s.discovery.Register(ctx, s.service, ep, registry.DefaultTTL); err != nil {
			ln.Close()
			return fmt.Errorf("server: advertise: %w", err)
		}
		s.logger.Info("Advertised", "service", s.service, "addr", ep.Addr)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Shutdown(DefaultShutdownTimeout); err != nil {
			s.logger.Warn("Shutdown", "err", err)
		}
	})
	defer stop()

	s.logger.Info("Serving", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeStream accepts framed guests on ln until Shutdown.
func (s *Server) ServeStream(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.startSession(transport.NewStreamConn(conn, s.codec, s.heartbeat), conn.RemoteAddr().String())
	}
}

// Shutdown stops the server gracefully:
//  1. deregister from discovery so no new guest picks this host
//  2. stop accepting connections
//  3. close every session, rejecting its pending calls
//  4. wait for sessions and their in-flight handlers, at most timeout
//
// Later calls return the first call's result.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.doShutdown(timeout)
	})
	return s.shutdownErr
}

func (s *Server) doShutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	// 1. stop advertising first so no new guest picks this host
	s.mu.Lock()
	addr := s.endpoint.Addr
	s.mu.Unlock()
	if s.discovery != nil && addr != "" {
		if err := s.discovery.Deregister(ctx, s.service, addr); err != nil {
			errs = append(errs, err)
		}
	}

	// 2. refuse new sessions and stop accepting connections
	s.mu.Lock()
	s.shutdown.Store(true)
	srv := s.httpSrv
	listeners := s.listeners
	s.mu.Unlock()
	if srv != nil {
		// hijacked websocket connections are not tracked by http.Server
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ln := range listeners {
		ln.Close()
	}

	// 3. end the sessions: their pending calls are rejected with bridge.ErrClosed
	s.cancel()
	for _, sess := range s.Sessions() {
		sess.Channel.Close()
	}

	// 4. wait for every Serve loop, and the handlers it runs, to return
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, errors.New("server: timeout waiting for sessions to finish"))
	}
	return errors.Join(errs...)
}
