package web

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Morditux/sessionkit/internal/config"
)

// CORS allows the configured frontend origins in production and reflects
// any origin otherwise. Requests without an Origin header are not affected.
func CORS(cfg *config.Config) gin.HandlerFunc {
	allowed := cfg.AllowedOrigins()
	production := cfg.IsProduction()

	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if !production {
				return true
			}
			return slices.Contains(allowed, origin)
		},
		AllowMethods:              []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:              []string{"Content-Type", "Authorization", CSRFHeader},
		ExposeHeaders:             []string{"X-Request-ID"},
		AllowCredentials:          true,
		MaxAge:                    24 * time.Hour,
		OptionsResponseStatusCode: 200,
	})
}
