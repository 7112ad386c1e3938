package controllers

import (
	"context"
	"crypto/subtle"
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
	submitTimeout   = 5 * time.Second
	markReadTimeout = 10 * time.Second
)

// InboundSubmitter queues inbound messages for ordered processing.
type InboundSubmitter interface {
	Submit(ctx context.Context, msg models.InboundMessage) error
}

type WhatsAppController struct {
	whatsappService *services.WhatsAppService
	inbound         InboundSubmitter
	log             zerolog.Logger
	now             func() time.Time
}

func NewWhatsAppController(whatsappService *services.WhatsAppService, inbound InboundSubmitter) *WhatsAppController {
	return &WhatsAppController{
		whatsappService: whatsappService,
		inbound:         inbound,
		log:             logger.Component("whatsapp"),
		now:             time.Now,
	}
}

// VerifyWebhook handles the webhook verification request from WhatsApp
func (wc *WhatsAppController) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	expected := wc.whatsappService.GetVerifyToken()
	if mode == "subscribe" && expected != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1 {
		wc.log.Info().Msg("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}

	wc.log.Warn().Str("mode", mode).Msg("webhook verification failed")
	c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
}

// HandleWebhook queues incoming WhatsApp messages and answers immediately.
// Malformed payloads are acknowledged so the provider does not retry them.
func (wc *WhatsAppController) HandleWebhook(c *gin.Context) {
	var webhookData models.WhatsAppWebhookData
	if err := c.ShouldBindJSON(&webhookData); err != nil {
		wc.log.Warn().Err(err).Msg("unparseable webhook payload ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), submitTimeout)
	defer cancel()

	queued := 0
	for _, entry := range webhookData.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, status := range change.Value.Statuses {
				wc.handleStatusUpdate(status)
			}
			for _, message := range change.Value.Messages {
				msg := wc.toInbound(message)
				if err := wc.inbound.Submit(ctx, msg); err != nil {
					// The provider redelivers on a non-2xx answer and
					// duplicate ids are dropped, so nothing is lost.
					wc.log.Error().Err(err).Str("from", logger.MaskPhone(message.From)).Msg("inbound queue unavailable")
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Busy, retry later"})
					return
				}
				queued++
				wc.whatsappService.RecordInbound()
				wc.markRead(message.ID)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "received", "queued": queued})
}

// toInbound extracts the text and any tapped option id. Media and other
// unsupported types arrive with empty text and get the clarification menu.
func (wc *WhatsAppController) toInbound(m models.WhatsAppMessage) models.InboundMessage {
	msg := models.InboundMessage{
		From:              m.From,
		ProviderMessageID: m.ID,
		ReceivedAt:        wc.now(),
		Transport:         models.TransportWhatsApp,
	}
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && sec > 0 {
		msg.ReceivedAt = time.Unix(sec, 0).UTC()
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			msg.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		if r := m.Interactive.ButtonReply; r != nil {
			msg.ReplyID, msg.Text = r.ID, r.Title
		}
		if r := m.Interactive.ListReply; r != nil {
			msg.ReplyID, msg.Text = r.ID, r.Title
		}
	case "button":
		if m.Button != nil {
			msg.ReplyID, msg.Text = m.Button.Payload, m.Button.Text
		}
	default:
		wc.log.Debug().Str("type", m.Type).Msg("unsupported message type")
	}
	return msg
}

func (wc *WhatsAppController) markRead(messageID string) {
	if !wc.whatsappService.Enabled() || messageID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := wc.whatsappService.MarkMessageAsRead(ctx, messageID); err != nil {
			wc.log.Debug().Err(err).Msg("mark as read failed")
		}
	}()
}

// handleStatusUpdate logs delivery receipts.
func (wc *WhatsAppController) handleStatusUpdate(status models.WhatsAppStatus) {
	event := wc.log.Debug()
	if status.Status == "failed" {
		event = wc.log.Warn()
	}
	event = event.Str("to", logger.MaskPhone(status.RecipientID)).Str("status", status.Status)
	for _, e := range status.Errors {
		event = event.Int("error_code", e.Code).Str("error_title", e.Title)
	}
	event.Msg("message status")
}

// GetStatus returns WhatsApp service status
func (wc *WhatsAppController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, wc.whatsappService.GetStatus())
}
