// Package router is the local HTTP API over one device's cart engine. The
// engine holds a single session, so the server binds to loopback by default
// and routes that change the session require the bearer token.
package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

// InitEngine builds the gin engine with the CORS policy from cfg.
func InitEngine(cfg *global.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppEnv == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(global.GetLogger()))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-Cache"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	return router
}

func InitializeRoutes(router *gin.Engine, h *Handler, jwtSecret string) {
	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		products := api.Group("/products")
		{
			products.GET("", h.GetProducts)
			products.GET("/:id", h.GetProductByID)
		}

		cart := api.Group("/cart")
		{
			cart.GET("", h.GetCart)
			cart.POST("/items", h.AddToCart)
			cart.PUT("/items/:lineId", h.UpdateCartLine)
			cart.DELETE("/items/:lineId", h.RemoveCartLine)
			cart.DELETE("/clear", h.ClearCart)
			cart.PUT("/tier", h.SetTier)
			cart.POST("/validate", h.ValidateCart)
		}

		session := api.Group("/session")
		{
			session.POST("/sign-in", BearerAuthMiddleware(jwtSecret), h.SignIn)
			session.POST("/sign-out", BearerAuthMiddleware(jwtSecret), h.SignOut)
			session.POST("/merge", BearerAuthMiddleware(jwtSecret), h.MergeGuestCart)
		}
	}
}

// NewRouter is InitEngine plus InitializeRoutes.
func NewRouter(cfg *global.Config, h *Handler) *gin.Engine {
	router := InitEngine(cfg)
	InitializeRoutes(router, h, cfg.JWTSecret)
	return router
}
