// Package web exposes the sessiond HTTP API on gin.
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Morditux/sessionkit"
	"github.com/Morditux/sessionkit/internal/apperr"
	"github.com/Morditux/sessionkit/internal/config"
	"github.com/Morditux/sessionkit/internal/observability"
)

const Version = "0.1.0"

type Deps struct {
	Config        *config.Config
	Manager       *sessionkit.Manager
	Authenticator Authenticator
	Logger        zerolog.Logger
	// Registry receives the HTTP collectors and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
}

type Server struct {
	cfg      *config.Config
	mgr      *sessionkit.Manager
	auth     Authenticator
	csrf     *CSRF
	logger   zerolog.Logger
	registry *prometheus.Registry
	started  time.Time
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:      d.Config,
		mgr:      d.Manager,
		auth:     d.Authenticator,
		csrf:     NewCSRF(d.Config.CSRF.Secret),
		logger:   d.Logger,
		registry: d.Registry,
		started:  time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(d.Logger, d.Config.IsDevelopment()))
	r.Use(observability.RequestMetricsMiddleware(observability.NewHTTPMetrics(d.Registry)))
	r.Use(CORS(d.Config))
	r.Use(apperr.ErrorHandler(d.Logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.registerRoutes(r)
	return r
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	requireAuth := RequireAuth(s.mgr)
	requireCSRF := RequireCSRF(s.csrf)

	auth := r.Group("/api/auth")
	auth.POST("/login", s.login)
	auth.POST("/logout", s.logout)
	auth.GET("/me", requireAuth, s.me)
	auth.GET("/csrf", requireAuth, s.csrfToken)

	uploads := r.Group("/api/uploads", requireAuth, requireCSRF)
	uploads.POST("/product-images", RequireRole(RoleSeller), s.productImages)
	uploads.POST("/product-form", RequireRole(RoleSeller), s.productForm)
	uploads.POST("/chat-attachments", s.chatAttachments)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"service": "sessiond",
		"version": Version,
	})
}
