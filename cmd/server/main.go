package main

import (
	"whatsapp-platform/internal/api"
	"whatsapp-platform/internal/automation"
	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/metrics"
	"whatsapp-platform/internal/pipeline"
	"whatsapp-platform/internal/provider"
	"whatsapp-platform/internal/quota"
	"whatsapp-platform/internal/resolver"
	"whatsapp-platform/internal/webhook"
	"whatsapp-platform/internal/ws"
	"whatsapp-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.Env, cfg.LogLevel)
	log := logger.Get()
	defer log.Sync()

	db, err := database.Init(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	database.SyncSettings(db, cfg)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
	}

	chain := &provider.SecretChain{
		MetaAppSecret:   cfg.MetaAppSecret,
		MetaVerifyToken: cfg.MetaVerifyToken,
		TwilioAuthToken: cfg.TwilioAuthToken,
		GenericSecret:   cfg.WebhookSecret,
	}

	registry := provider.NewRegistry(cfg.GraphAPIBaseURL)
	credStore := credentials.NewStore(db)
	quotaGuard := quota.NewGuard(db, rdb, cfg.DefaultDayQuota)
	res := resolver.New(db)
	pipe := pipeline.New(db, registry, credStore, quotaGuard, res, log)
	engine := automation.NewEngine(db, pipe, log)
	hub := ws.NewHub(log)
	go hub.Run()
	orchestrator := broadcast.New(db, pipe, hub, log)

	webhookHandler := webhook.NewHandler(db, registry, chain, res, engine, hub, log)
	messageHandler := api.NewMessageHandler(db, pipe)
	contactHandler := api.NewContactHandler(db)
	templateHandler := api.NewTemplateHandler(db, registry, credStore, log)
	campaignHandler := api.NewCampaignHandler(db, orchestrator, log)
	automationHandler := api.NewAutomationHandler(db)
	integrationHandler := api.NewIntegrationHandler(db, registry, credStore, log)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Webhook Routes (authenticated by provider signature, not JWT)
	r.GET("/webhook/:provider", webhookHandler.Verify)
	r.POST("/webhook/:provider", webhookHandler.Receive)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Dashboard API Routes
	apiGroup := r.Group("/api")
	apiGroup.Use(api.Auth(cfg.JWTSecret))
	{
		apiGroup.POST("/messages/send", messageHandler.SendMessage)
		apiGroup.GET("/messages", messageHandler.GetMessages)
		apiGroup.GET("/conversations", messageHandler.GetConversations)

		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.POST("/contacts", contactHandler.CreateContact)
		apiGroup.PUT("/contacts/:id", contactHandler.UpdateContact)

		apiGroup.GET("/templates", templateHandler.GetTemplates)
		apiGroup.POST("/templates", templateHandler.CreateTemplate)
		apiGroup.POST("/templates/sync", templateHandler.SyncTemplates)

		apiGroup.GET("/campaigns", campaignHandler.GetCampaigns)
		apiGroup.POST("/campaigns", campaignHandler.CreateCampaign)
		apiGroup.GET("/campaigns/:uuid", campaignHandler.GetCampaign)
		apiGroup.POST("/campaigns/:uuid/run", campaignHandler.RunCampaign)

		apiGroup.GET("/automation/rules", automationHandler.GetRules)
		apiGroup.POST("/automation/rules", automationHandler.CreateRule)
		apiGroup.PUT("/automation/rules/:id", automationHandler.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", automationHandler.DeleteRule)
		apiGroup.GET("/automation/logs", automationHandler.GetLogs)

		integrationGroup := apiGroup.Group("/integrations")
		integrationGroup.Use(api.RequireAdmin())
		{
			integrationGroup.POST("/:provider", integrationHandler.Handle)
		}

		apiGroup.GET("/ws", func(c *gin.Context) {
			hub.ServeWs(c.Writer, c.Request, api.TenantID(c))
		})
	}

	log.Info("Server starting", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to run server", zap.Error(err))
	}
}
