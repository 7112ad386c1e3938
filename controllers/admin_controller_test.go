package controllers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func newAdminRouter(s *stack) *gin.Engine {
	ac := s.admin()
	r := gin.New()
	r.GET("/health", ac.Health)
	r.POST("/admin/alerts", ac.SendAlert)
	r.POST("/admin/emergency", ac.Emergency)
	r.POST("/admin/health-tips/draft", ac.DraftHealthTip)
	r.GET("/admin/jobs", ac.ListJobs)
	r.POST("/admin/jobs/resume", ac.ResumeJobs)
	r.POST("/admin/tables/reload", ac.ReloadTables)
	r.GET("/admin/stats", ac.Stats)
	return r
}

func TestSendAlertEndpoint(t *testing.T) {
	s := newStack(t)
	r := newAdminRouter(s)

	w := doJSON(t, r, http.MethodPost, "/admin/emergency", gin.H{
		"message":    "Heatwave warning, stay indoors 12-4pm",
		"alert_type": "broadcast",
		"recipients": []string{"+15550000100", "+15550000101"},
	}, map[string]string{"Idempotency-Key": "op-77"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var res models.AlertResult
	decode(t, w, &res)
	if res.RequestID != "op-77" || res.Recipients != 2 {
		t.Errorf("result = %+v", res)
	}
	sms := 0
	for _, j := range res.Jobs {
		if j.Channel == models.ChannelSMS {
			sms++
		}
	}
	if sms != 2 {
		t.Errorf("emergency shortcut should force critical alerts with sms, got %d sms jobs", sms)
	}

	bad := []gin.H{
		{"message": ""},
		{"message": "x", "alert_type": "rumour", "recipients": []string{"+1555"}},
		{"message": "x", "priority": "meh", "recipients": []string{"+1555"}},
		{"message": "x"},
	}
	for _, body := range bad {
		if w := doJSON(t, r, http.MethodPost, "/admin/alerts", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", body, w.Code)
		}
	}
}

func TestJobEndpoints(t *testing.T) {
	s := newStack(t)
	r := newAdminRouter(s)

	doJSON(t, r, http.MethodPost, "/admin/alerts", gin.H{"message": "Clinic closed on Friday", "recipients": []string{"+15550000100"}}, nil)
	s.dispatch.Wait()

	w := doJSON(t, r, http.MethodGet, "/admin/jobs?status=sent", nil, nil)
	var body struct {
		Jobs  []models.DispatchJob `json:"jobs"`
		Count int                  `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 2 {
		t.Errorf("sent jobs = %d, want reply and admin notice", body.Count)
	}

	if w := doJSON(t, r, http.MethodGet, "/admin/jobs?status=lost", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/admin/jobs?limit=-1", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/admin/jobs/resume", nil, nil); w.Code != http.StatusOK {
		t.Errorf("resume: %d", w.Code)
	}
}

func TestReloadTablesEndpoint(t *testing.T) {
	s := newStack(t)
	r := newAdminRouter(s)

	if w := doJSON(t, r, http.MethodPost, "/admin/tables/reload", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("reload embedded tables: %d %s", w.Code, w.Body.String())
	}

	broken := newStack(t, func(cfg *config.Config) {
		cfg.Tables.RulesPath = "/does/not/exist.yaml"
	})
	before := broken.chatbot.Tables()
	rb := newAdminRouter(broken)
	if w := doJSON(t, rb, http.MethodPost, "/admin/tables/reload", nil, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("broken tables: status = %d, want 422", w.Code)
	}
	if broken.chatbot.Tables() != before {
		t.Error("active tables must survive a rejected reload")
	}
}

func TestDraftHealthTipWithoutAI(t *testing.T) {
	r := newAdminRouter(newStack(t))
	if w := doJSON(t, r, http.MethodPost, "/admin/health-tips/draft", gin.H{"topic": "dengue"}, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/admin/health-tips/draft", gin.H{}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing topic: status = %d, want 400", w.Code)
	}
}

func TestStatsAndHealth(t *testing.T) {
	r := newAdminRouter(newStack(t))

	w := doJSON(t, r, http.MethodGet, "/admin/stats", nil, nil)
	var stats map[string]interface{}
	decode(t, w, &stats)
	for _, key := range []string{"messages_processed", "active_sessions", "jobs", "whatsapp", "websocket_clients"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats lack %q: %v", key, stats)
		}
	}

	w = doJSON(t, r, http.MethodGet, "/health", nil, nil)
	var health map[string]interface{}
	decode(t, w, &health)
	if w.Code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", w.Code, health)
	}
}
