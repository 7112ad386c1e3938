package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func newAlertFixture(t *testing.T, defaults ...string) (*AlertService, *chatFixture) {
	t.Helper()
	f := newChatFixture(t, nil)
	cfg, _ := loadTestConfig(t)
	cfg.Admin.BroadcastRecipients = defaults
	return NewAlertService(f.dispatch, f.svc, cfg), f
}

func countChannels(jobs []*models.DispatchJob) map[models.DispatchChannel]int {
	out := make(map[models.DispatchChannel]int)
	for _, j := range jobs {
		out[j.Channel]++
	}
	return out
}

func TestEmergencyAlertFansOut(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	res, err := alerts.Send(ctx, models.AlertRequest{
		Message:      "Flooding reported, move to higher ground",
		AlertType:    models.AlertEmergency,
		AffectedArea: "Ward 12",
		Recipients:   []string{"+91 98765 43210", "919876543210", "+15550000002"},
		RequestID:    "req-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.RequestID != "req-1" || res.Recipients != 2 {
		t.Fatalf("result = %+v, want 2 distinct recipients", res)
	}
	got := countChannels(res.Jobs)
	if got[models.ChannelUserReply] != 2 || got[models.ChannelSMS] != 2 || got[models.ChannelAdminAlert] != 1 {
		t.Errorf("jobs = %v, want 2 replies, 2 sms and 1 admin notice", got)
	}

	f.dispatch.Wait()
	var reply string
	for _, m := range f.chat.Sent() {
		if m.To == "+15550000002" {
			reply = m.Payload.Text
		}
	}
	if !strings.Contains(reply, "Flooding reported") || !strings.Contains(reply, "Ward 12") {
		t.Errorf("reply = %q", reply)
	}

	again, err := alerts.Send(ctx, models.AlertRequest{
		Message:    "Flooding reported, move to higher ground",
		AlertType:  models.AlertEmergency,
		Recipients: []string{"+91 98765 43210", "+15550000002"},
		RequestID:  "req-1",
	})
	if err != nil {
		t.Fatalf("retry Send: %v", err)
	}
	if len(again.Jobs) != 0 {
		t.Errorf("retried request created %d jobs, want none", len(again.Jobs))
	}
}

func TestHealthTipUsesDefaultRecipients(t *testing.T) {
	alerts, f := newAlertFixture(t, "+15550000003", "+15550000004")

	res, err := alerts.Send(context.Background(), models.AlertRequest{
		Message:   "Boil drinking water during the monsoon",
		AlertType: models.AlertHealthTip,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.RequestID == "" {
		t.Error("request id should be generated")
	}
	got := countChannels(res.Jobs)
	if got[models.ChannelUserReply] != 2 || got[models.ChannelAdminAlert] != 1 || got[models.ChannelSMS] != 0 {
		t.Errorf("jobs = %v", got)
	}

	f.dispatch.Wait()
	for _, m := range f.chat.Sent() {
		if m.To == "+15550000003" && !strings.HasPrefix(m.Payload.Text, "💡") {
			t.Errorf("health tip text = %q", m.Payload.Text)
		}
	}
}

func TestInvalidAlerts(t *testing.T) {
	alerts, _ := newAlertFixture(t)

	tests := []struct {
		name string
		req  models.AlertRequest
	}{
		{"empty message", models.AlertRequest{Message: "  ", Recipients: []string{"+1555"}}},
		{"unknown type", models.AlertRequest{Message: "x", AlertType: "sms", Recipients: []string{"+1555"}}},
		{"unknown priority", models.AlertRequest{Message: "x", Priority: "urgent", Recipients: []string{"+1555"}}},
		{"no recipients", models.AlertRequest{Message: "x"}},
		{"no usable recipients", models.AlertRequest{Message: "x", Recipients: []string{"nobody"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := alerts.Send(context.Background(), tt.req); !errors.Is(err, models.ErrInvalidAlert) {
				t.Errorf("err = %v, want ErrInvalidAlert", err)
			}
		})
	}
}
