package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func newChatRouter(s *stack) *gin.Engine {
	cc := NewChatbotController(s.chatbot)
	r := gin.New()
	r.POST("/api/v1/chat", cc.HandleChat)
	r.GET("/api/v1/intents", cc.GetSupportedIntents)
	return r
}

func TestHandleChat(t *testing.T) {
	s := newStack(t)
	r := newChatRouter(s)

	w := doJSON(t, r, http.MethodPost, "/api/v1/chat", models.ChatRequest{
		UserID:    "patient-7",
		Message:   "chest pain and breathing difficulty",
		MessageID: "m-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	decode(t, w, &resp)
	if !resp.Emergency || resp.Urgency != models.UrgencyCritical || resp.TurnID != "m-1" {
		t.Errorf("response = %+v", resp)
	}
	if !strings.Contains(resp.Response, "112") {
		t.Errorf("emergency reply lacks the emergency number: %q", resp.Response)
	}

	// API users have no phone number, so there is no SMS job.
	if resp.Jobs != 2 {
		t.Errorf("jobs = %d, want reply and admin alert", resp.Jobs)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/chat", models.ChatRequest{UserID: "patient-7", Message: "again", MessageID: "m-1"}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate message: status = %d, want 409", w.Code)
	}
}

func TestHandleChatValidation(t *testing.T) {
	r := newChatRouter(newStack(t))
	for _, body := range []string{`{"message":"hi"}`, `{"user_id":"u"}`, `{"user_id":"  ","message":"hi"}`, `nope`} {
		if w := doJSON(t, r, http.MethodPost, "/api/v1/chat", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestGetSupportedIntents(t *testing.T) {
	r := newChatRouter(newStack(t))
	w := doJSON(t, r, http.MethodGet, "/api/v1/intents", nil, nil)
	var body struct {
		Intents   []map[string]string `json:"intents"`
		Languages []string            `json:"languages"`
	}
	decode(t, w, &body)
	if len(body.Intents) == 0 || len(body.Languages) < 11 {
		t.Errorf("intents = %d, languages = %d", len(body.Intents), len(body.Languages))
	}
}

func TestWebSocketChat(t *testing.T) {
	s := newStack(t)
	wsc := NewWebSocketController(s.chatbot, s.hub, []string{"http://localhost:3000"})
	r := gin.New()
	r.GET("/api/v1/ws", wsc.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?user_id=browser-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply models.ChatResponse
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(reply.Response, "Hello!") || len(reply.Options) == 0 {
		t.Errorf("reply = %+v", reply)
	}

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin should be refused, got err %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/ws", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: status = %d", w.Code)
	}
}
