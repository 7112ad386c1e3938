package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/services"
)

// webAddress namespaces web and API user ids so they never collide with a
// WhatsApp number.
func webAddress(userID string) string {
	return "web:" + strings.TrimSpace(userID)
}

type ChatbotController struct {
	chatbotService *services.ChatbotService
}

func NewChatbotController(chatbotService *services.ChatbotService) *ChatbotController {
	return &ChatbotController{
		chatbotService: chatbotService,
	}
}

// HandleChat runs one turn synchronously and answers with the reply inline.
func (cc *ChatbotController) HandleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	result, err := cc.chatbotService.ProcessMessage(c.Request.Context(), models.InboundMessage{
		From:              webAddress(req.UserID),
		Text:              req.Message,
		ProviderMessageID: req.MessageID,
		ReplyID:           req.ReplyID,
		Transport:         models.TransportAPI,
	})
	switch {
	case errors.Is(err, services.ErrDuplicateTurn):
		c.JSON(http.StatusConflict, gin.H{"error": "Message already processed"})
	case err != nil && result != nil:
		c.JSON(http.StatusServiceUnavailable, result.ChatResponse())
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
	default:
		c.JSON(http.StatusOK, result.ChatResponse())
	}
}

// GetSupportedIntents lists the menu and the languages the bot understands.
func (cc *ChatbotController) GetSupportedIntents(c *gin.Context) {
	tables := cc.chatbotService.Tables()
	menu := make([]gin.H, 0, len(tables.Phrases.Menu))
	for _, m := range tables.Phrases.Menu {
		menu = append(menu, gin.H{
			"id":     m.ID,
			"intent": m.Intent,
			"title":  tables.Messages.Text(strings.ReplaceAll(m.ID, "_", "-"), models.LangEnglish, nil),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"intents":   menu,
		"languages": models.SupportedLanguages,
	})
}
