package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/hangout-app/hangout-server/internal/config"
	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/engine"
	"github.com/hangout-app/hangout-server/internal/server"
	"github.com/hangout-app/hangout-server/internal/stats"
	"github.com/teris-io/shortid"
)

type HangoutApp struct {
	log               *log.Logger
	db                database.HangoutRepository
	mux               *http.Server
	hs                *server.HangoutServer
	engine            *engine.Engine
	stats             stats.StatsProvider
	signingKey        []byte
	limiter           *ipRateLimiter
	generateHangoutId func() (string, error)
	now               func() time.Time
}

func NewHangoutApp(mux *http.ServeMux, logger *log.Logger, hs *server.HangoutServer, eng *engine.Engine, db database.HangoutRepository, statsProvider stats.StatsProvider, cfg *config.Config) *HangoutApp {
	s := &HangoutApp{
		log:               logger,
		db:                db,
		hs:                hs,
		engine:            eng,
		stats:             statsProvider,
		signingKey:        cfg.SigningKey,
		limiter:           newIpRateLimiter(1, 10),
		generateHangoutId: generateHangoutId,
		now:               func() time.Time { return time.Now().UTC() },
	}

	statsProvider.RegisterMetric("HangoutsCreated")
	statsProvider.RegisterMetric("MembersJoined")

	mux.HandleFunc("POST /api/auth/register", s.rateLimit(s.createAccount))
	mux.HandleFunc("POST /api/auth/login", s.rateLimit(s.login))
	mux.HandleFunc("POST /api/auth/guest", s.rateLimit(s.createGuest))
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/hangouts", s.authMiddleware(s.createHangout))
	mux.Handle("GET /api/hangouts", s.authMiddleware(s.getHangout))
	mux.Handle("DELETE /api/hangouts", s.authMiddleware(s.deleteHangout))
	mux.Handle("POST /api/hangouts/join", s.authMiddleware(s.joinHangout))
	mux.Handle("POST /api/hangouts/leave", s.authMiddleware(s.leaveHangout))
	mux.Handle("PATCH /api/hangouts/stage-durations", s.authMiddleware(s.updateStageDurations))
	mux.Handle("POST /api/hangouts/progress", s.authMiddleware(s.progressStage))
	mux.Handle("POST /api/slots", s.authMiddleware(s.createSlot))
	mux.Handle("GET /api/slots", s.authMiddleware(s.listSlots))
	mux.Handle("POST /api/suggestions", s.authMiddleware(s.createSuggestion))
	mux.Handle("GET /api/suggestions", s.authMiddleware(s.listSuggestions))
	mux.Handle("POST /api/votes", s.authMiddleware(s.createVote))
	mux.Handle("GET /api/events", s.authMiddleware(s.getEvents))
	mux.HandleFunc("GET /ws", s.hs.ServeWS)
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
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

// generateHangoutId produces a sortable opaque id: a base36 millisecond
// timestamp followed by a short random suffix.
func generateHangoutId() (string, error) {
	sid, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate shortid: %w", err)
	}

	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)

	return ts + "-" + sid, nil
}

func (s *HangoutApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *HangoutApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
