package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multiapi-go/internal/config"
	"multiapi-go/internal/events"
	"multiapi-go/internal/manager"
	mw "multiapi-go/internal/middleware"
	"multiapi-go/internal/storage"
)

// Dependencies carries the runtime services the HTTP surface exposes.
type Dependencies struct {
	Manager *manager.Manager
	Hub     *events.Hub
	Store   storage.Store
}

// BuildEngine assembles the gin engine: completion route, stats and
// admin surface, websocket event stream, health and metrics.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		mw.Recovery(),
		mw.RequestID(),
		mw.RequestLogger(),
		mw.CORS(),
		mw.RateLimiter(int(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst),
	)

	h := &handlers{deps: deps}

	engine.GET("/healthz", h.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	v1.POST("/chat/completions", h.complete)
	v1.GET("/events", h.events)

	auth := mw.ManagementAuth(managementValidator(cfg))
	v1.GET("/stats", auth, h.stats)

	admin := v1.Group("/admin", auth)
	admin.GET("/credentials", h.listCredentials)
	admin.POST("/credentials", h.addCredential)
	admin.DELETE("/credentials/:provider/:suffix", h.removeCredential)
	admin.PATCH("/credentials/:provider/:suffix", h.toggleCredential)

	return engine
}

// managementValidator returns nil (auth disabled) when no management
// key is configured.
func managementValidator(cfg *config.Config) func(string) bool {
	if cfg.Server.ManagementKey == "" && cfg.Server.ManagementKeyHash == "" {
		return nil
	}
	return config.ManagementKeyValidator(cfg)
}

type handlers struct {
	deps Dependencies
}

func (h *handlers) health(c *gin.Context) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "storage": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
