package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/utils"
)

var (
	ErrAIDisabled = errors.New("AI drafting is not configured")
	ErrEmptyDraft = errors.New("model returned an empty draft")
)

// maxTipRunes keeps drafts inside one WhatsApp text body.
const maxTipRunes = 600

const tipSystemPrompt = `You write short public health tips for a WhatsApp health helpline in India.
Write plain text only, no markdown, at most four sentences.
Give practical prevention or self-care advice, never a diagnosis or a prescription dose.
Always end by advising to see a doctor or call the emergency number if symptoms are severe.`

// AIService drafts health tips for operators. It is never used while
// answering users; every draft is reviewed by a person before it is sent.
type AIService struct {
	client    *openai.Client
	model     string
	maxTokens int
	cfg       config.AIConfig
	log       zerolog.Logger
}

func NewAIService(cfg config.AIConfig) *AIService {
	s := &AIService{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		cfg:       cfg,
		log:       logger.Component("ai"),
	}
	if !cfg.Enabled() {
		return s
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	s.client = openai.NewClientWithConfig(oc)
	return s
}

func (s *AIService) Enabled() bool {
	return s != nil && s.client != nil
}

func languageName(l models.Language) string {
	tag, err := language.Parse(string(l))
	if err != nil {
		return "English"
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return "English"
}

// DraftHealthTip asks the model for a tip on req.Topic in req.Language.
func (s *AIService) DraftHealthTip(ctx context.Context, req models.TipDraftRequest) (*models.TipDraft, error) {
	if !s.Enabled() {
		return nil, ErrAIDisabled
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", models.ErrInvalidAlert)
	}
	lang := req.Language
	if !lang.Supported() {
		lang = models.LangEnglish
	}

	prompt := fmt.Sprintf("Topic: %s\nLanguage: %s", topic, languageName(lang))
	if req.Audience != "" {
		prompt += "\nAudience: " + req.Audience
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: tipSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   s.maxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		s.log.Error().Err(err).Str("model", s.model).Msg("health tip draft failed")
		return nil, fmt.Errorf("draft health tip: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyDraft
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyDraft
	}

	s.log.Info().Str("model", s.model).Str("language", string(lang)).Int("tokens", resp.Usage.TotalTokens).Msg("health tip drafted")
	return &models.TipDraft{
		Topic:    topic,
		Language: lang,
		Text:     utils.Truncate(text, maxTipRunes),
		Model:    s.model,
	}, nil
}
