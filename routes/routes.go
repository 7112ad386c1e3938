package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/controllers"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/middleware"
)

// Handlers groups the controllers mounted by SetupRoutes.
type Handlers struct {
	Chatbot   *controllers.ChatbotController
	WebSocket *controllers.WebSocketController
	WhatsApp  *controllers.WhatsAppController
	Admin     *controllers.AdminController
}

// NewRouter builds the gin engine with the shared middleware stack.
func NewRouter(cfg *config.Config, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	SetupRoutes(router, cfg, h)
	return router
}

func SetupRoutes(router *gin.Engine, cfg *config.Config, h Handlers) {
	router.GET("/health", h.Admin.Health)

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		public.POST("/chat", h.Chatbot.HandleChat)
		public.GET("/intents", h.Chatbot.GetSupportedIntents)

		// WebSocket for real-time chat
		public.GET("/ws", h.WebSocket.HandleWebSocket)
	}

	// WhatsApp webhook, mounted at the root and under /api/whatsapp
	verify := middleware.VerifyWhatsAppSignature(cfg.WhatsApp.AppSecret)
	for _, prefix := range []string{"", "/api/whatsapp"} {
		router.GET(prefix+"/webhook", h.WhatsApp.VerifyWebhook)
		router.POST(prefix+"/webhook", verify, h.WhatsApp.HandleWebhook)
	}

	router.GET("/admin/health", h.Admin.Health)
	admin := router.Group("/admin")
	admin.Use(middleware.RequireAPIKey(cfg.Admin.APIKey))
	{
		admin.POST("/alerts", h.Admin.SendAlert)
		admin.POST("/broadcast", h.Admin.Broadcast)
		admin.POST("/emergency", h.Admin.Emergency)
		admin.POST("/health-tip", h.Admin.HealthTip)
		admin.POST("/health-tips/draft", h.Admin.DraftHealthTip)
		admin.GET("/jobs", h.Admin.ListJobs)
		admin.POST("/jobs/resume", h.Admin.ResumeJobs)
		admin.POST("/tables/reload", h.Admin.ReloadTables)
		admin.GET("/stats", h.Admin.Stats)
		admin.GET("/whatsapp/status", h.WhatsApp.GetStatus)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Route not found",
			"path":  c.Request.URL.Path,
		})
	})
}
