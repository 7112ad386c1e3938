package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func newTestAI(t *testing.T, content string) (*AIService, *map[string]interface{}) {
	t.Helper()
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	t.Cleanup(srv.Close)

	return NewAIService(config.AIConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL + "/v1",
		Model:     "gpt-4o-mini",
		MaxTokens: 200,
		Timeout:   5 * time.Second,
	}), &body
}

func TestDraftHealthTip(t *testing.T) {
	ai, body := newTestAI(t, "  Drink boiled water and wash hands before meals. See a doctor if diarrhoea persists.  ")

	draft, err := ai.DraftHealthTip(context.Background(), models.TipDraftRequest{Topic: "monsoon diarrhoea", Language: models.LangHindi})
	if err != nil {
		t.Fatalf("DraftHealthTip: %v", err)
	}
	if !strings.HasPrefix(draft.Text, "Drink boiled water") || draft.Language != models.LangHindi || draft.Model != "gpt-4o-mini" {
		t.Errorf("draft = %+v", draft)
	}

	msgs, _ := (*body)["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", (*body)["messages"])
	}
	user, _ := msgs[1].(map[string]interface{})
	if prompt, _ := user["content"].(string); !strings.Contains(prompt, "Hindi") || !strings.Contains(prompt, "monsoon diarrhoea") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestDraftHealthTipErrors(t *testing.T) {
	if _, err := NewAIService(config.AIConfig{}).DraftHealthTip(context.Background(), models.TipDraftRequest{Topic: "x"}); !errors.Is(err, ErrAIDisabled) {
		t.Errorf("disabled: err = %v", err)
	}

	ai, _ := newTestAI(t, "   ")
	if _, err := ai.DraftHealthTip(context.Background(), models.TipDraftRequest{Topic: "heat"}); !errors.Is(err, ErrEmptyDraft) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := ai.DraftHealthTip(context.Background(), models.TipDraftRequest{Topic: " "}); !errors.Is(err, models.ErrInvalidAlert) {
		t.Errorf("no topic: err = %v", err)
	}
}
