package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captured struct {
	To   string
	Text string
}

// captureSender records WhatsApp and SMS sends.
type captureSender struct {
	mu   sync.Mutex
	sent []captured
}

func (s *captureSender) SendPayload(_ context.Context, to string, p models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, captured{To: to, Text: p.Text})
	return nil
}

func (s *captureSender) SendSMS(ctx context.Context, to, body string) error {
	return s.SendPayload(ctx, to, models.Payload{Text: body})
}

func (s *captureSender) Sent() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), s.sent...)
}

// stack is the service graph behind the controllers, on memory stores.
type stack struct {
	cfg      *config.Config
	stores   *database.Stores
	chat     *captureSender
	hub      *services.WebSocketHub
	dispatch *services.DispatchCoordinator
	sessions *services.SessionManager
	chatbot  *services.ChatbotService
	alerts   *services.AlertService
	whatsapp *services.WhatsAppService
}

// newStack wires the services on memory stores. Tweaks run after the
// knowledge tables are loaded, so they can point later reloads elsewhere.
func newStack(t *testing.T, tweaks ...func(*config.Config)) *stack {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("IDENTITY_SALT", "controller-salt")
	t.Setenv("ADMIN_API_KEY", "test-admin-key")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify-me")
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Dispatch.InitialBackoff = time.Millisecond
	cfg.Dispatch.MaxBackoff = 2 * time.Millisecond
	cfg.Admin.PhoneNumbers = []string{"+15550000001"}
	tables, err := config.LoadTables(cfg.Tables)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	s := &stack{
		cfg:      cfg,
		stores:   database.NewMemoryStores(cfg.Triage.SessionTTL),
		chat:     &captureSender{},
		hub:      services.NewWebSocketHub(),
		whatsapp: services.NewWhatsAppService(cfg.WhatsApp),
	}
	delivery := services.NewDeliveryRouter(s.chat, s.hub, s.chat, cfg.Admin.PhoneNumbers)
	s.dispatch = services.NewDispatchCoordinator(s.stores.Jobs, delivery, cfg.Dispatch, true)
	t.Cleanup(func() { _ = s.dispatch.Shutdown(context.Background()) })
	s.sessions = services.NewSessionManager(s.stores.Sessions, cfg.Triage.SessionTTL)
	s.chatbot, err = services.NewChatbotService(cfg, tables, s.sessions, s.dispatch)
	if err != nil {
		t.Fatalf("chatbot: %v", err)
	}
	s.alerts = services.NewAlertService(s.dispatch, s.chatbot, cfg)
	return s
}

func (s *stack) admin() *AdminController {
	return NewAdminController(AdminDeps{
		Alerts:      s.alerts,
		Dispatch:    s.dispatch,
		Chatbot:     s.chatbot,
		Sessions:    s.sessions,
		AI:          services.NewAIService(s.cfg.AI),
		WhatsApp:    s.whatsapp,
		Hub:         s.hub,
		SMSActive:   true,
		HealthCheck: s.stores.HealthCheck,
	})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}
