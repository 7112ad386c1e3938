package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/services"
)

const maxWSMessage = 16 << 10

// wsInbound is one message from a web chat client.
type wsInbound struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
	ReplyID   string `json:"reply_id,omitempty"`
}

type WebSocketController struct {
	chatbotService services.TurnProcessor
	hub            *services.WebSocketHub
	upgrader       websocket.Upgrader
	log            zerolog.Logger
}

// NewWebSocketController accepts upgrades from allowedOrigins only; "*"
// allows any origin.
func NewWebSocketController(chatbotService services.TurnProcessor, hub *services.WebSocketHub, allowedOrigins []string) *WebSocketController {
	return &WebSocketController{
		chatbotService: chatbotService,
		hub:            hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return OriginAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		log: logger.Component("websocket"),
	}
}

// OriginAllowed reports whether origin is listed. Requests without an
// Origin header come from non-browser clients and are allowed.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket runs a turn for every message of a web chat connection.
// Replies travel back over the same connection through the hub, like any
// other dispatch job.
func (wc *WebSocketController) HandleWebSocket(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	conn, err := wc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wc.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxWSMessage)

	address := webAddress(userID)
	unregister := wc.hub.Register(address, conn)
	defer unregister()

	ctx := c.Request.Context()
	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				wc.log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		if strings.TrimSpace(msg.Message) == "" && msg.ReplyID == "" {
			continue
		}

		_, err := wc.chatbotService.ProcessMessage(ctx, models.InboundMessage{
			From:              address,
			Text:              msg.Message,
			ProviderMessageID: msg.MessageID,
			ReplyID:           msg.ReplyID,
			Transport:         models.TransportWeb,
		})
		if err != nil && !errors.Is(err, services.ErrDuplicateTurn) {
			// The user already got the try-again reply through the hub.
			wc.log.Warn().Err(err).Msg("web turn failed")
		}
	}
}
