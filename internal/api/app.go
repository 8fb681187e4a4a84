package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/kibaro-app/realtime/internal/auth"
	"github.com/kibaro-app/realtime/internal/config"
	"github.com/kibaro-app/realtime/internal/database"
	"github.com/kibaro-app/realtime/internal/realtime"
	"github.com/kibaro-app/realtime/internal/stats"
)

// RealtimeApp is the HTTP surface: account endpoints, the notification
// producer API and the websocket upgrade path.
type RealtimeApp struct {
	log            *log.Logger
	db             database.NotificationRepository
	mux            *http.Server
	reg            *realtime.Registry
	dispatcher     *realtime.Dispatcher
	tokens         *auth.JWTVerifier
	stats          stats.StatsProvider
	allowedOrigins []string
}

func NewRealtimeApp(mux *http.ServeMux, logger *log.Logger, reg *realtime.Registry, d *realtime.Dispatcher, db database.NotificationRepository, tokens *auth.JWTVerifier, statsProvider stats.StatsProvider, cfg *config.Config) *RealtimeApp {
	s := &RealtimeApp{
		log:            logger,
		db:             db,
		reg:            reg,
		dispatcher:     d,
		tokens:         tokens,
		stats:          statsProvider,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("POST /api/notifications", s.authMiddleware(s.createNotification))
	mux.Handle("GET /api/notifications", s.authMiddleware(s.getNotifications))
	// authentication for /ws happens in-band after the upgrade
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RealtimeApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RealtimeApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
