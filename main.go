package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/controllers"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/routes"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/services"
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal().Err(err).Msg("server stopped with error")
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Setup(cfg.LogLevel, !cfg.IsProduction())
	log := logger.Component("main")

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tables, err := config.LoadTables(cfg.Tables)
	if err != nil {
		return fmt.Errorf("load knowledge tables: %w", err)
	}

	// Connect to database
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	stores, err := database.Connect(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Type, err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stores.Close(ctx); err != nil {
			log.Error().Err(err).Msg("closing database")
		}
	}()
	log.Info().Str("type", cfg.Database.Type).Msg("database connected")

	// Verify WhatsApp configuration
	if err := verifyWhatsAppConfig(cfg.WhatsApp); err != nil {
		log.Warn().Err(err).Msg("WhatsApp integration may not work properly")
	} else {
		log.Info().Msg("WhatsApp configuration verified successfully")
	}

	whatsapp := services.NewWhatsAppService(cfg.WhatsApp)
	hub := services.NewWebSocketHub()

	var sms services.SMSSender
	if svc := services.NewSMSService(cfg.SMS); svc != nil {
		sms = svc
	} else {
		log.Warn().Msg("SMS provider not configured, emergency SMS disabled")
	}

	delivery := services.NewDeliveryRouter(whatsapp, hub, sms, cfg.Admin.PhoneNumbers)
	dispatch := services.NewDispatchCoordinator(stores.Jobs, delivery, cfg.Dispatch, sms != nil)
	sessions := services.NewSessionManager(stores.Sessions, cfg.Triage.SessionTTL)

	chatbot, err := services.NewChatbotService(cfg, tables, sessions, dispatch)
	if err != nil {
		return fmt.Errorf("build chatbot: %w", err)
	}
	alerts := services.NewAlertService(dispatch, chatbot, cfg)
	ai := services.NewAIService(cfg.AI)
	inbound := services.NewInboundRouter(chatbot, chatbot.UserKey, cfg.Dispatch)

	scheduler, err := services.NewScheduler(cfg.Scheduler, sessions, dispatch)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	router := routes.NewRouter(cfg, routes.Handlers{
		Chatbot:   controllers.NewChatbotController(chatbot),
		WebSocket: controllers.NewWebSocketController(chatbot, hub, cfg.AllowedOrigins),
		WhatsApp:  controllers.NewWhatsAppController(whatsapp, inbound),
		Admin: controllers.NewAdminController(controllers.AdminDeps{
			Alerts:      alerts,
			Dispatch:    dispatch,
			Chatbot:     chatbot,
			Sessions:    sessions,
			AI:          ai,
			WhatsApp:    whatsapp,
			Hub:         hub,
			Inbound:     inbound,
			SMSActive:   sms != nil,
			HealthCheck: stores.HealthCheck,
		}),
	})

	// Log available endpoints
	logAvailableEndpoints(router)

	// Jobs left pending by a previous process
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n, err := dispatch.ResumePending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("startup resume failed")
			return
		}
		if n > 0 {
			log.Info().Int("jobs", n).Msg("resumed pending dispatch jobs")
		}
	}()
	scheduler.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("health", "http://localhost:"+cfg.Port+"/health").
			Str("webhook", "http://localhost:"+cfg.Port+"/api/whatsapp/webhook").
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	// Drain queued turns before the dispatcher so their jobs are tracked.
	inbound.Stop()
	if err := scheduler.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}
	if err := dispatch.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("dispatch jobs still running at shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}

// verifyWhatsAppConfig checks if WhatsApp configuration is present
func verifyWhatsAppConfig(cfg config.WhatsAppConfig) error {
	required := map[string]string{
		"WHATSAPP_ACCESS_TOKEN":    cfg.AccessToken,
		"WHATSAPP_PHONE_NUMBER_ID": cfg.PhoneNumberID,
		"WHATSAPP_VERIFY_TOKEN":    cfg.VerifyToken,
	}

	missing := []string{}
	for _, key := range []string{"WHATSAPP_ACCESS_TOKEN", "WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_VERIFY_TOKEN"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	return nil
}

// logAvailableEndpoints logs all registered routes
func logAvailableEndpoints(router *gin.Engine) {
	log := logger.Component("routes")
	for _, route := range router.Routes() {
		log.Debug().Str("method", route.Method).Str("path", route.Path).Msg("endpoint")
	}
	log.Info().Int("count", len(router.Routes())).Msg("routes registered")
}
