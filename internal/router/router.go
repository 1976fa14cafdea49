package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Health  *database.Health

	// Sessions reports how many exam sessions this instance holds.
	Sessions interface{ ActiveCount() int }
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))
	router.Use(middleware.Brotli())

	// Health check. Load balancers pull an instance whose Redis is unreachable.
	router.GET("/health", func(c *gin.Context) {
		deps, ok := handlers.Health.Check(c.Request.Context())
		if !ok {
			response.FailWithData(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable, gin.H{"dependencies": deps})
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"status":          "ok",
			"dependencies":    deps,
			"active_sessions": handlers.Sessions.ActiveCount(),
		})
	})

	// ─── 1. Student Group (JWT + Single Device + Rate Limit) ───────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService, log),
		limiter.Middleware(),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/sessions", handlers.Session.ListAttempts)

		session := studentAPI.Group("/exams/:exam_id/session")
		session.POST("", handlers.Session.Start)
		session.GET("", handlers.Session.GetState)
		session.DELETE("", handlers.Session.Close)
		session.GET("/paper", handlers.Session.GetPaper)
		session.PUT("/answers", handlers.Session.SetAnswer)
		session.DELETE("/answers", handlers.Session.ClearAnswer)
		session.POST("/marks", handlers.Session.ToggleMark)
		session.POST("/navigate", handlers.Session.Navigate)
		session.POST("/pause", handlers.Session.Pause)
		session.POST("/resume", handlers.Session.Resume)
		session.POST("/submit", handlers.Session.Submit)
	}

	// ─── 2. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService, log),
	)
	{
		ws.GET("/student/exams/:exam_id/session", handlers.WS.SessionStream)
	}

	return router
}
