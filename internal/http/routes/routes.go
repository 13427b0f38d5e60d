package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/bukudoa/internal/clients"
	"github.com/briangreenhill/bukudoa/internal/config"
	appmw "github.com/briangreenhill/bukudoa/internal/http/middleware"
	"github.com/briangreenhill/bukudoa/internal/metrics"
	"github.com/briangreenhill/bukudoa/internal/offline"
)

// Worker is the offline cache manager as seen by the router
type Worker interface {
	offline.Handler
	State() offline.State
	Status(ctx context.Context) (offline.Status, error)
}

// Enqueuer queues background tasks; *asynq.Client satisfies it
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Server is the gateway router and the collaborators its handlers use
type Server struct {
	Router  *chi.Mux
	Worker  Worker
	Clients *clients.Hub
	Queue   Enqueuer // nil runs checks inline
	Metrics *metrics.Metrics
	Log     zerolog.Logger

	public       *url.URL
	crossOrigin  map[string]bool
	checkTimeout time.Duration
}

// ServerOptions configure New
type ServerOptions struct {
	Worker   Worker
	Clients  *clients.Hub
	Queue    Enqueuer
	Cfg      *config.Config
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// New builds the router. Admin routes require Cfg.AdminToken; an empty
// token disables them.
func New(opts ServerOptions) (*Server, error) {
	public, err := url.Parse(opts.Cfg.PublicURL)
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	s := &Server{
		Router:       r,
		Worker:       opts.Worker,
		Clients:      opts.Clients,
		Queue:        opts.Queue,
		Metrics:      opts.Metrics,
		Log:          opts.Logger,
		public:       public,
		crossOrigin:  make(map[string]bool, len(opts.Cfg.CrossOriginHosts)),
		checkTimeout: opts.Cfg.Update.Timeout,
	}
	for _, h := range opts.Cfg.CrossOriginHosts {
		s.crossOrigin[h] = true
	}

	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(chimw.RealIP)
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/sw/status", s.handleStatus)
	r.Get("/sw/ws", s.handleWebSocket)

	r.Group(func(ar chi.Router) {
		ar.Use(appmw.RequireToken(opts.Cfg.AdminToken))
		ar.Post("/sw/push", s.handlePush)
		ar.Post("/sw/notifications/{id}/click", s.handleNotificationClick)
		ar.Post("/sw/check", s.handleCheck)
		ar.Post("/sw/skip-waiting", s.handleSkipWaiting)
	})

	r.HandleFunc("/x/{host}/*", s.handleTunnel)
	r.HandleFunc("/*", s.handleFetch)

	return s, nil
}

type statusResponse struct {
	offline.Status
	Clients int `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Worker.Status(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("status failed")
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, statusResponse{Status: st, Clients: s.Clients.Len()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write json response")
	}
}
