// Package httpapi is the local control surface: submit posts, cancel them,
// and browse the submission log.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"postcast/internal/destination"
	"postcast/internal/logstore"
	"postcast/internal/poster"
	"postcast/internal/refresher"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

const maxBody = 64 << 20

type Poster interface {
	Post(ctx context.Context, sub *submission.Submission, targets []submission.Target) (poster.Report, error)
	Cancel(submissionID, reason string) int
	InFlight() []string
}

type LogStore interface {
	Query(ctx context.Context, kind submission.Kind) ([]logstore.Entry, error)
	Get(ctx context.Context, id string) (logstore.Entry, error)
	Remove(ctx context.Context, id string) error
}

type StatusSource interface {
	Statuses() []refresher.Status
}

type Deps struct {
	Poster       Poster
	Logs         LogStore
	Registry     *destination.Registry
	Statuses     StatusSource
	Metrics      http.Handler
	Token        string
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Log          logx.Logger
}

type Server struct {
	deps Deps
	mux  *chi.Mux
	log  logx.Logger

	bg     sync.WaitGroup
	baseMu sync.Mutex
	base   context.Context
}

func New(d Deps) *Server {
	s := &Server{deps: d, log: d.Log, base: context.Background()}
	s.mux = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() *chi.Mux {
	m := chi.NewRouter()
	m.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	m.Get("/healthz", s.healthz)
	if s.deps.Metrics != nil {
		m.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	m.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/posts", s.createPost)
		r.Get("/posts", s.listInFlight)
		r.Post("/posts/{id}/cancel", s.cancelPost)
		r.Get("/logs", s.listLogs)
		r.Get("/logs/{id}", s.getLog)
		r.Delete("/logs/{id}", s.deleteLog)
		r.Get("/destinations", s.listDestinations)
	})
	if s.deps.Pprof {
		m.With(s.auth).Mount("/debug", middleware.Profiler())
	}
	return m
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.Token)) != 1 {
			respondError(w, r, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Run listens on addr until ctx is done. Async posts started through the API
// run under ctx, so they are cancelled with it.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.deps.ReadTimeout,
		WriteTimeout:      s.deps.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shCtx)
	s.bg.Wait()
	<-errCh
	return err
}

func (s *Server) background() context.Context {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	return s.base
}
