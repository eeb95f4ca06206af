// Package debughttp serves an optional introspection endpoint for a running
// host: liveness, JSON status, the recent journal and pprof.
package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rtcore/internal/runtime/supervisor"
	logx "rtcore/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the server. Binding to a non-loopback address requires a
// Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Sources supply the documents served by the endpoint. Nil sources answer
// 404.
type Sources struct {
	Status  func() any
	Journal func(ctx context.Context, n int) (any, error)
}

const defaultJournalLimit = 50

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	src Sources

	srv *http.Server
	sup *supervisor.Supervisor
}

func New(log logx.Logger, src Sources) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log, src: src}
}

// Reconfigure applies cfg, starting, stopping or restarting the listener as
// needed. Safe to call from a config reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return strings.TrimSpace(a.Addr) != strings.TrimSpace(b.Addr) ||
		normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout
}

// Start is idempotent. The listener runs under its own supervisor and is
// restarted with backoff if it exits; it never cancels the parent context.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart("debughttp.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Stop(ctx)
	s.log.Info("debug http stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cur.Token == "" && !cur.AllowInsecure && !isLoopbackAddr(addr) {
		s.log.Error("debug http refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return errors.New("debughttp: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("debughttp listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug http started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", normalizePrefix(cur.Prefix)),
		logx.Bool("token_set", cur.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debughttp: server exited unexpectedly")
	}
	return err
}

// Handler builds the router for cfg: /healthz, /status, /journal and the
// profiler mounted at Prefix.
func (s *Server) Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withAuth(cfg.Token))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if s.src.Status == nil {
			http.NotFound(w, r)
			return
		}
		s.writeJSON(w, http.StatusOK, s.src.Status())
	})
	r.Get("/journal", func(w http.ResponseWriter, r *http.Request) {
		if s.src.Journal == nil {
			http.NotFound(w, r)
			return
		}
		n := defaultJournalLimit
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = v
		}
		doc, err := s.src.Journal(r.Context(), n)
		if err != nil {
			s.log.Warn("journal read failed", logx.Err(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, doc)
	})
	r.Mount(normalizePrefix(cfg.Prefix), middleware.Profiler())
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug("json encode failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizePrefix returns the profiler mount point; pprof is served under
// <prefix>/pprof/.
func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "/debug"
	}
	return "/" + p
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
