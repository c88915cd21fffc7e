package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/handler"
	"github.com/moodjournal/internal/logger"
)

const sessionCookieName = "moodjournal_session"

// Options 描述路由层需要的配置。
type Options struct {
	SessionSecret string
	SessionMaxAge time.Duration
	CORSOrigins   []string
	Log           *logger.Logger
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestLogger(opts.Log))

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 配置会话中间件
	secret := opts.SessionSecret
	if secret == "" {
		secret = "moodjournal-dev-secret"
	}
	maxAge := opts.SessionMaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookieName, store))

	r.GET("/healthz", api.HealthCheck)

	apiGroup := r.Group("/api")
	{
		authGroup := apiGroup.Group("/auth")
		authGroup.POST("/register", api.Register)
		authGroup.POST("/login", api.Login)
		authGroup.POST("/logout", api.AuthRequired(), api.Logout)

		// 需要登录的路由
		protected := apiGroup.Group("")
		protected.Use(api.AuthRequired())
		{
			protected.GET("/me", api.GetMe)
			protected.PUT("/me", api.UpdateMe)

			protected.GET("/months", api.ListMonths)
			protected.GET("/months/:month", api.GetMonth)
			protected.GET("/months/:month/chart.png", api.GetMonthChart)

			protected.GET("/entries/date/:date", api.ResolveEntry)
			protected.PUT("/entries/date/:date", api.SubmitEntry)
			protected.GET("/entries/:id", api.GetEntry)

			protected.GET("/entries/:id/chat", api.GetThread)
			protected.POST("/entries/:id/chat", api.SendMessage)
			protected.DELETE("/entries/:id/chat", api.ResetThread)

			admin := protected.Group("/admin")
			admin.Use(api.AdminRequired())
			{
				admin.GET("/users", api.ListUsers)
				admin.PUT("/users/:id/username", api.RenameUser)
				admin.GET("/settings", api.GetSystemSettings)
				admin.PUT("/settings", api.UpdateSystemSettings)
				admin.POST("/settings/test-ai", api.TestAIConnection)
			}
		}
	}

	return r
}
