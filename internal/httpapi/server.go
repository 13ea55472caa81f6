// Package httpapi serves the auction over HTTP: a JSON API for the console
// and a websocket feed of live updates.
package httpapi

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/gate"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/roster"
)

const maxBodyBytes = 1 << 20

// Server holds the API handlers.
type Server struct {
	auction  *auction.Manager
	roster   *roster.Manager
	gate     *gate.Gate
	feed     *Feed
	validate *validator.Validate
	logger   *slog.Logger
	origins  []string
}

// NewServer wires the handlers. origins lists the allowed CORS origins;
// empty or "*" allows any.
func NewServer(a *auction.Manager, r *roster.Manager, g *gate.Gate, bus notify.Bus, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		auction:  a,
		roster:   r,
		gate:     g,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		origins:  origins,
	}
	s.feed = NewFeed(bus, s.allowOrigin, logger)
	return s
}

func (s *Server) allowOrigin(origin string) bool {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogging)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.feed.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/rules", s.handleRules)

		r.Post("/auth/unlock", s.handleUnlock)
		r.With(s.requireEdit).Post("/auth/lock", s.handleLock)

		r.Route("/players", func(r chi.Router) {
			r.Get("/", s.handleListPlayers)
			r.With(s.requireEdit).Post("/", s.handleCreatePlayer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPlayer)
				r.Get("/eligibility", s.handleEligibility)
				r.With(s.requireEdit).Put("/", s.handleUpdatePlayer)
				r.With(s.requireEdit).Delete("/", s.handleDeletePlayer)
			})
		})

		r.Route("/teams", func(r chi.Router) {
			r.Get("/", s.handleListTeams)
			r.With(s.requireEdit).Post("/", s.handleCreateTeam)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTeam)
				r.Get("/max-bid", s.handleMaxBid)
				r.With(s.requireEdit).Put("/", s.handleRenameTeam)
				r.With(s.requireEdit).Delete("/", s.handleDeleteTeam)
			})
		})

		r.Route("/auction/current", func(r chi.Router) {
			r.Get("/", s.handleCurrent)
			r.With(s.requireEdit).Put("/", s.handleUpdateCurrent)
			r.With(s.requireEdit).Delete("/", s.handleClearSelection)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", s.handleHistory)
			r.Get("/latest", s.handleLatest)
			r.With(s.requireEdit).Post("/", s.handleSettle)
			r.With(s.requireEdit).Post("/undo", s.handleReverse)
		})

		r.Get("/events", s.handleEvents)
		r.With(s.requireEdit).Post("/seed", s.handleSeed)
	})

	c := cors.New(cors.Options{
		AllowOriginFunc: s.allowOrigin,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:         600,
	})

	return otelhttp.NewHandler(c.Handler(r), "auction-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/ws"
		}),
	)
}

// requireEdit lets a request through when the gate accepts its bearer
// token.
func (s *Server) requireEdit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.gate.Check(bearer(r)); err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.InfoContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
