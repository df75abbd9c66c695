package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/config"
	"github.com/savegress/vitalguard/internal/dispatch"
	"github.com/savegress/vitalguard/internal/emergency"
	"github.com/savegress/vitalguard/internal/monitor"
	"github.com/savegress/vitalguard/internal/presenter"
	"github.com/savegress/vitalguard/internal/websocket"
)

// Server represents the API server
type Server struct {
	router    chi.Router
	engine    *emergency.Engine
	scheduler *monitor.Scheduler
	presenter *presenter.Presenter
	hub       *websocket.Hub
	pool      *dispatch.Pool
	config    config.ServerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer creates a new API server. hub may be nil when push delivery is
// disabled.
func NewServer(
	engine *emergency.Engine,
	scheduler *monitor.Scheduler,
	p *presenter.Presenter,
	hub *websocket.Hub,
	cfg config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		scheduler: scheduler,
		presenter: p,
		hub:       hub,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	s.router.Get("/health", s.healthCheck)

	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS)
	}

	s.router.Route("/api", func(r chi.Router) {
		// Vitals
		r.Route("/vitals", func(r chi.Router) {
			r.Post("/check", s.checkVitals)
			r.Get("/emergencies", s.getEmergencyStats)
		})

		// Monitoring sessions
		r.Get("/monitoring", s.listMonitoring)
		r.Route("/monitoring/{userId}", func(r chi.Router) {
			r.Get("/", s.getMonitoringStatus)
			r.Post("/start", s.startMonitoring)
			r.Post("/stop", s.stopMonitoring)
		})

		// Per-user history
		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/emergencies", s.getUserEmergencies)
			r.Get("/emergencies/export", s.exportUserEmergencies)
			r.Get("/dialog", s.getDialogState)
		})

		// Emergency responses
		r.Route("/emergencies/{id}", func(r chi.Router) {
			r.Get("/", s.getEmergency)
			r.Post("/acknowledge", s.acknowledgeEmergency)
			r.Post("/resolve", s.resolveEmergency)
			r.Post("/actions/{type}/execute", s.executeAction)
		})
	})
}

// SetPool reports the notification pool on the health endpoint
func (s *Server) SetPool(p *dispatch.Pool) {
	s.pool = p
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
