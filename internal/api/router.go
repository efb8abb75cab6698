package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/dbpool"
	"github.com/persistorai/queuecall/internal/middleware"
	"github.com/persistorai/queuecall/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	Pool        *dbpool.Pool // nil on the in-memory store
	Hub         *ws.Hub
	Agencies    AgencyDirectory
	Tickets     TicketService
	StaffLookup middleware.StaffLookup
	CORSOrigins []string
	Version     string
}

// Router-level limits.
const (
	maxBodySize = 64 << 10 // 64 KB
	rateLimit   = 50       // requests per second per IP
	rateBurst   = 100      // token bucket burst size
)

const wsPath = "/api/v1/ws"

func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst).Handler())
	r.Use(middleware.PrometheusMiddleware(wsPath))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, deps.Hub, log, deps.Version)
	agencies := NewAgencyHandler(deps.Agencies, log)
	tickets := NewTicketHandler(deps.Tickets, log)

	// Health, readiness, and the citizen-facing ticket routes are public.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)
	api.GET("/tickets/:id", tickets.Get)
	api.POST("/tickets/:id/rating", tickets.Rate)

	// Consoles and displays authenticate inside the WebSocket join.
	api.GET("/ws", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins))

	guard := middleware.NewBruteForceGuard(ctx, clock.Real(), log)
	staff := api.Group("/agencies/:agencyId",
		middleware.BruteForceMiddleware(guard),
		middleware.StaffAuth(deps.StaffLookup, log, guard),
		middleware.RequireAgency(),
	)

	staff.GET("/counters", agencies.ListCounters)
	staff.GET("/services", agencies.ListServices)
	staff.POST("/tickets", tickets.Issue)
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(ctx, r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
