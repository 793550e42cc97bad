// Package api exposes the scene engine over HTTP. Scene lifecycle and
// annotation commands, transcript reads, the plain-text export, and the
// live entry feed are all served from one chi router.
//
// The API trusts the game server in front of it for identity: each request
// carries the acting viewer in the X-Actor-ID, X-Actor-Privileged, and
// X-Actor-Groups headers. Empty headers mean an unauthenticated viewer.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmux/scrivener/internal/health"
	"github.com/openmux/scrivener/internal/observe"
	"github.com/openmux/scrivener/internal/scene"
	"github.com/openmux/scrivener/internal/watcher"
)

// Server holds the wired engine services behind the HTTP surface.
type Server struct {
	store    scene.Store
	registry *scene.Registry
	resolver *scene.Resolver
	hub      *watcher.Hub
	feed     *watcher.Feed
	metrics  *observe.Metrics
	health   *health.Handler
}

// Config holds the dependencies for a [Server].
type Config struct {
	Store    scene.Store
	Registry *scene.Registry
	Resolver *scene.Resolver
	Hub      *watcher.Hub
	Feed     *watcher.Feed
	Metrics  *observe.Metrics
	Health   *health.Handler
}

// NewServer creates a Server. A nil Metrics falls back to the default
// instruments; a nil Health handler serves liveness only.
func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	h := cfg.Health
	if h == nil {
		h = health.New()
	}
	return &Server{
		store:    cfg.Store,
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		hub:      cfg.Hub,
		feed:     cfg.Feed,
		metrics:  m,
		health:   h,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(observe.Middleware(s.metrics))

		api.Route("/scenes", func(sc chi.Router) {
			sc.Post("/", s.handleStartScene)
			sc.Get("/", s.handleListScenes)
			sc.Post("/stop", s.handleStopScene)
			sc.Post("/title", s.handleSetTitle)
			sc.Post("/plots", s.handleSetPlots)
			sc.Post("/groups", s.handleAddGroups)
			sc.Post("/visibility", s.handleSetVisibility)
			sc.Get("/resolve", s.handleResolveScene)

			sc.Get("/{ref}", s.handleSceneDetail)
			sc.Post("/{ref}/archive", s.handleArchiveScene)
			sc.Delete("/{ref}", s.handleDeleteScene)
			sc.Get("/{ref}/transcript", s.handleTranscript)
			sc.Get("/{ref}/transcript.txt", s.handleTranscriptExport)
			sc.Get("/{ref}/live", s.handleLiveFeed)
		})

		api.Route("/locations/{locationID}", func(loc chi.Router) {
			loc.Post("/enter", s.handleEnter)
			loc.Post("/leave", s.handleLeave)
			loc.Post("/activity", s.handleActivity)
			loc.Get("/occupants", s.handleOccupants)
		})
	})

	return r
}
