package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/handlers"
	"sportsbook-settlement-backend/internal/middleware"
	"sportsbook-settlement-backend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := services.NewRedisService(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()

	jwtService := services.NewJWTService(cfg)
	fetcher := services.NewFetchClient()
	provider := services.NewLivraProvider(cfg)

	wsHandler := handlers.NewWebSocketHandler()

	engine := services.NewSettlementEngine(store, fetcher, cfg, wsHandler)
	withdrawal := services.NewWithdrawalService(store, provider, cfg, wsHandler)

	scheduler := services.NewScheduler(engine.FetchLiveMatches, engine.SettleTickets, cfg.LiveFetchInterval, cfg.SettlementInterval)
	scheduler.Start()
	defer scheduler.Stop()

	walletHandler := handlers.NewWalletHandler(store, withdrawal)
	adminHandler := handlers.NewAdminHandler(engine)
	liveHandler := handlers.NewLiveHandler(store, fetcher, cfg)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/api/live", liveHandler.GetLiveMatches)

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/ws", wsHandler.HandleWebSocket)

		protected.GET("/balance", walletHandler.GetBalance)
		protected.GET("/notifications", walletHandler.GetNotifications)
		protected.GET("/tickets", walletHandler.GetTickets)
		protected.DELETE("/tickets/:id", walletHandler.DeleteTicket)

		protected.POST("/withdraw", walletHandler.Withdraw)
		protected.POST("/deposit", walletHandler.Deposit)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.AdminTokenMiddleware(cfg.AdminToken))
	{
		admin.POST("/settle", adminHandler.TriggerSettlement)
		admin.POST("/fetch-live", adminHandler.TriggerLiveFetch)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
