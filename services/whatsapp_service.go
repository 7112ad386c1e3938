// services/whatsapp_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/utils"
)

// Cloud API limits for interactive messages.
const (
	maxReplyButtons     = 3
	maxButtonTitleRunes = 20
	maxListTitleRunes   = 24
	maxBodyRunes        = 1024
)

type WhatsAppService struct {
	apiURL        string
	apiVersion    string
	accessToken   string
	phoneNumberID string
	verifyToken   string
	markAsRead    bool
	httpClient    *http.Client
	log           zerolog.Logger

	// Status tracking
	statusMu        sync.RWMutex
	lastMessageTime time.Time
	lastInboundTime time.Time
	dailyCount      map[string]int
	dailyFailed     map[string]int
}

func NewWhatsAppService(cfg config.WhatsAppConfig) *WhatsAppService {
	return &WhatsAppService{
		apiURL:        cfg.APIURL,
		apiVersion:    cfg.APIVersion,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		verifyToken:   cfg.VerifyToken,
		markAsRead:    cfg.MarkAsRead,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log:         logger.Component("whatsapp"),
		dailyCount:  make(map[string]int),
		dailyFailed: make(map[string]int),
	}
}

// GetVerifyToken returns the webhook verification token
func (ws *WhatsAppService) GetVerifyToken() string {
	return ws.verifyToken
}

func (ws *WhatsAppService) Enabled() bool {
	return ws.accessToken != "" && ws.phoneNumberID != ""
}

// SendTextMessage sends a simple text message
func (ws *WhatsAppService) SendTextMessage(ctx context.Context, to string, message string) error {
	payload := models.WhatsAppSendMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               utils.CleanPhoneNumber(to),
		Type:             "text",
		Text: &models.WhatsAppText{
			Body: message,
		},
	}
	return ws.sendRequest(ctx, payload)
}

// SendInteractiveMessage sends an interactive message
func (ws *WhatsAppService) SendInteractiveMessage(ctx context.Context, to string, interactive *models.InteractiveMessage) error {
	payload := models.WhatsAppSendMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               utils.CleanPhoneNumber(to),
		Type:             "interactive",
		Interactive:      interactive,
	}
	return ws.sendRequest(ctx, payload)
}

// SendPayload sends plain text, or an interactive menu when the payload
// carries options: reply buttons for up to three options, a list otherwise.
func (ws *WhatsAppService) SendPayload(ctx context.Context, to string, p models.Payload) error {
	if !p.NeedsInteractiveFormat() {
		return ws.SendTextMessage(ctx, to, p.Text)
	}
	return ws.SendInteractiveMessage(ctx, to, BuildInteractiveMenu(p))
}

// BuildInteractiveMenu converts a payload with options into a button or
// list message within the Cloud API limits.
func BuildInteractiveMenu(p models.Payload) *models.InteractiveMessage {
	msg := &models.InteractiveMessage{
		Body: &models.InteractiveBody{Text: utils.Truncate(p.Text, maxBodyRunes)},
	}
	if p.Header != "" {
		msg.Header = &models.MessageHeader{Type: "text", Text: utils.Truncate(p.Header, 60)}
	}

	if len(p.Options) <= maxReplyButtons {
		msg.Type = "button"
		buttons := make([]models.InteractiveButton, 0, len(p.Options))
		for _, o := range p.Options {
			o.Title = utils.Truncate(o.Title, maxButtonTitleRunes)
			buttons = append(buttons, o.ToWhatsAppButton())
		}
		msg.Action = &models.InteractiveAction{Buttons: buttons}
		return msg
	}

	msg.Type = "list"
	rows := make([]models.ListItem, 0, len(p.Options))
	for _, o := range p.Options {
		o.Title = utils.Truncate(o.Title, maxListTitleRunes)
		rows = append(rows, o.ToWhatsAppListItem())
	}
	label := p.Button
	if label == "" {
		label = "Options"
	}
	msg.Action = &models.InteractiveAction{
		Button:   utils.Truncate(label, maxButtonTitleRunes),
		Sections: []models.Section{{Rows: rows}},
	}
	return msg
}

// MarkMessageAsRead marks a message as read
func (ws *WhatsAppService) MarkMessageAsRead(ctx context.Context, messageID string) error {
	if !ws.markAsRead || messageID == "" {
		return nil
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return ws.sendRequest(ctx, payload)
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// sendRequest posts to the messages endpoint. Client errors other than
// rate limiting are permanent; everything else may be retried.
func (ws *WhatsAppService) sendRequest(ctx context.Context, payload interface{}) error {
	if !ws.Enabled() {
		return Permanent(fmt.Errorf("WhatsApp API is not configured"))
	}
	url := fmt.Sprintf("%s/%s/%s/messages", ws.apiURL, ws.apiVersion, ws.phoneNumberID)

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+ws.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		ws.recordFailure()
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		ws.recordFailure()
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		ws.recordFailure()
		var ge graphError
		detail := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			detail = fmt.Sprintf("code %d: %s", ge.Error.Code, logger.RedactDigits(ge.Error.Message))
		}
		ws.log.Warn().Int("status", resp.StatusCode).Int("code", ge.Error.Code).Msg("WhatsApp API error")
		apiErr := fmt.Errorf("WhatsApp API error %d (%s)", resp.StatusCode, detail)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return Permanent(apiErr)
		}
		return apiErr
	}

	ws.updateMessageStatus()
	return nil
}

// updateMessageStatus updates internal message tracking
func (ws *WhatsAppService) updateMessageStatus() {
	ws.statusMu.Lock()
	defer ws.statusMu.Unlock()

	ws.lastMessageTime = time.Now()
	ws.dailyCount[time.Now().Format("2006-01-02")]++
}

func (ws *WhatsAppService) recordFailure() {
	ws.statusMu.Lock()
	defer ws.statusMu.Unlock()
	ws.dailyFailed[time.Now().Format("2006-01-02")]++
}

// RecordInbound notes the arrival of a webhook message.
func (ws *WhatsAppService) RecordInbound() {
	ws.statusMu.Lock()
	defer ws.statusMu.Unlock()
	ws.lastInboundTime = time.Now()
}

// GetStatus returns the service status
func (ws *WhatsAppService) GetStatus() models.WhatsAppServiceStatus {
	ws.statusMu.RLock()
	defer ws.statusMu.RUnlock()

	today := time.Now().Format("2006-01-02")
	return models.WhatsAppServiceStatus{
		Enabled:             ws.Enabled(),
		LastMessageSent:     ws.lastMessageTime,
		MessageCountToday:   ws.dailyCount[today],
		FailedCountToday:    ws.dailyFailed[today],
		LastInboundReceived: ws.lastInboundTime,
	}
}
