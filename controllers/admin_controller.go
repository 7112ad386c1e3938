package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/services"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// AdminDeps are the services behind the operator API.
type AdminDeps struct {
	Alerts    *services.AlertService
	Dispatch  *services.DispatchCoordinator
	Chatbot   *services.ChatbotService
	Sessions  *services.SessionManager
	AI        *services.AIService
	WhatsApp  *services.WhatsAppService
	Hub       *services.WebSocketHub
	Inbound   *services.InboundRouter
	SMSActive bool
	// HealthCheck pings the storage backend.
	HealthCheck func(ctx context.Context) error
}

type AdminController struct {
	deps    AdminDeps
	log     zerolog.Logger
	started time.Time
}

func NewAdminController(deps AdminDeps) *AdminController {
	return &AdminController{
		deps:    deps,
		log:     logger.Component("admin"),
		started: time.Now(),
	}
}

// SendAlert handles POST /admin/alerts.
func (ac *AdminController) SendAlert(c *gin.Context) {
	ac.sendAlert(c, "")
}

// Broadcast, Emergency and HealthTip are typed shortcuts of SendAlert.
func (ac *AdminController) Broadcast(c *gin.Context) {
	ac.sendAlert(c, models.AlertBroadcast)
}

func (ac *AdminController) Emergency(c *gin.Context) {
	ac.sendAlert(c, models.AlertEmergency)
}

func (ac *AdminController) HealthTip(c *gin.Context) {
	ac.sendAlert(c, models.AlertHealthTip)
}

func (ac *AdminController) sendAlert(c *gin.Context, forced models.AlertType) {
	var req models.AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	if forced != "" {
		req.AlertType = forced
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	result, err := ac.deps.Alerts.Send(c.Request.Context(), req)
	switch {
	case errors.Is(err, models.ErrInvalidAlert):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		ac.log.Error().Err(err).Msg("alert dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch alert", "result": result})
	default:
		c.JSON(http.StatusAccepted, result)
	}
}

// ListJobs handles GET /admin/jobs?status=&limit=.
func (ac *AdminController) ListJobs(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	switch status {
	case "", models.JobPending, models.JobSent, models.JobFailed, models.JobExhausted:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(status))})
		return
	}
	limit := defaultJobLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJobLimit)
	}

	jobs, err := ac.deps.Dispatch.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		ac.log.Error().Err(err).Msg("list jobs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*models.DispatchJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// ResumeJobs re-drives pending and failed jobs and reports how many ran.
func (ac *AdminController) ResumeJobs(c *gin.Context) {
	n, err := ac.deps.Dispatch.ResumePending(c.Request.Context())
	if err != nil {
		ac.log.Error().Err(err).Msg("resume jobs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resume jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": n})
}

// ReloadTables hot-reloads the knowledge tables. Invalid tables are
// rejected and the active ones stay in place.
func (ac *AdminController) ReloadTables(c *gin.Context) {
	if err := ac.deps.Chatbot.ReloadFromConfig(); err != nil {
		ac.log.Warn().Err(err).Msg("table reload rejected")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	t := ac.deps.Chatbot.Tables()
	c.JSON(http.StatusOK, gin.H{
		"status":    "reloaded",
		"languages": len(t.Phrases.Languages),
		"symptoms":  len(t.Phrases.Symptoms),
		"rules":     len(t.Rules.Rules),
		"messages":  len(t.Messages),
	})
}

// DraftHealthTip asks the LLM for a tip the operator can review and send.
func (ac *AdminController) DraftHealthTip(c *gin.Context) {
	var req models.TipDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	draft, err := ac.deps.AI.DraftHealthTip(c.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrAIDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidAlert):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Draft failed"})
	default:
		c.JSON(http.StatusOK, draft)
	}
}

// Stats reports counters for operators.
func (ac *AdminController) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	processed, failed := ac.deps.Chatbot.Stats()
	stats := gin.H{
		"uptime_seconds":     int(time.Since(ac.started).Seconds()),
		"messages_processed": processed,
		"turns_failed":       failed,
		"sms_enabled":        ac.deps.SMSActive,
		"ai_enabled":         ac.deps.AI.Enabled(),
		"whatsapp":           ac.deps.WhatsApp.GetStatus(),
		"websocket_clients":  ac.deps.Hub.Connected(),
	}
	if ac.deps.Inbound != nil {
		stats["inbound_queued"] = ac.deps.Inbound.Queued()
	}
	if n, err := ac.deps.Sessions.Count(ctx); err == nil {
		stats["active_sessions"] = n
	}
	if counts, err := ac.deps.Dispatch.JobCounts(ctx); err == nil {
		stats["jobs"] = counts
	}
	c.JSON(http.StatusOK, stats)
}

// Health is the unauthenticated liveness probe.
func (ac *AdminController) Health(c *gin.Context) {
	body := gin.H{
		"status":              "ok",
		"timestamp":           time.Now().UTC(),
		"whatsapp_configured": ac.deps.WhatsApp.Enabled(),
	}
	if ac.deps.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := ac.deps.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}
