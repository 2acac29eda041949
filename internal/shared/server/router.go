package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"youposm/internal/shared/config"
	"youposm/internal/shared/metrics"
	"youposm/internal/shared/server/middleware"
	"youposm/internal/shared/server/respond"
	localstore "youposm/internal/shared/storage/object/local"
	"youposm/internal/submissions"
)

const submitRateLimitGroup = "SUBMIT"

// RouterDeps holds the handlers the router mounts.
type RouterDeps struct {
	Config            config.Config
	SubmissionHandler *submissions.Handler
	// MediaDir, when set, is served under /media for the local blob store.
	MediaDir string
	// Health reports backend details for /api/v1/health.
	Health func() gin.H
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/submissions" {
					return submitRateLimitGroup
				}
				return ""
			},
			Rules: map[string]middleware.RateLimitRule{
				submitRateLimitGroup: {Rate: deps.Config.RateLimitRPS, Burst: deps.Config.RateLimitBurst},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())
	if deps.MediaDir != "" {
		r.Static(localstore.MediaRoute, deps.MediaDir)
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		body := gin.H{"ok": true}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		respond.OK(c, body)
	})
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterPages(r)
		deps.SubmissionHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
