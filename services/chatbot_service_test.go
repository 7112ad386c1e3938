package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

const (
	testUser  = "+91 98765 43210"
	testAdmin = "+15550000001"
)

type chatFixture struct {
	svc      *ChatbotService
	dispatch *DispatchCoordinator
	stores   *database.Stores
	chat     *fakeSender
	sms      *fakeSender
	clock    time.Time
}

func newChatFixture(t *testing.T, sessions database.SessionRepository) *chatFixture {
	t.Helper()
	cfg, tables := loadTestConfig(t)
	stores := database.NewMemoryStores(cfg.Triage.SessionTTL)
	if sessions != nil {
		stores.Sessions = sessions
	}

	f := &chatFixture{
		stores: stores,
		chat:   newFakeSender(),
		sms:    newFakeSender(),
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	router := NewDeliveryRouter(f.chat, f.chat, f.sms, []string{testAdmin})
	f.dispatch = NewDispatchCoordinator(stores.Jobs, router, cfg.Dispatch, true)
	t.Cleanup(func() { _ = f.dispatch.Shutdown(context.Background()) })

	svc, err := NewChatbotService(cfg, tables, NewSessionManager(stores.Sessions, cfg.Triage.SessionTTL), f.dispatch)
	if err != nil {
		t.Fatalf("NewChatbotService: %v", err)
	}
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func (f *chatFixture) send(t *testing.T, id, text string) *TurnResult {
	t.Helper()
	res, err := f.svc.ProcessMessage(context.Background(), models.InboundMessage{
		From:              testUser,
		Text:              text,
		ProviderMessageID: id,
		ReceivedAt:        f.clock,
		Transport:         models.TransportWhatsApp,
	})
	if err != nil {
		t.Fatalf("ProcessMessage(%q): %v", text, err)
	}
	return res
}

func (f *chatFixture) jobsByChannel(t *testing.T) map[models.DispatchChannel]int {
	t.Helper()
	f.dispatch.Wait()
	jobs, err := f.stores.Jobs.ListByStatus(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	counts := make(map[models.DispatchChannel]int)
	for _, j := range jobs {
		counts[j.Channel]++
	}
	return counts
}

func channels(jobs []*models.DispatchJob) map[models.DispatchChannel]models.UrgencyTier {
	out := make(map[models.DispatchChannel]models.UrgencyTier)
	for _, j := range jobs {
		out[j.Channel] = j.Urgency
	}
	return out
}

func TestChestPainAndBreathingEscalates(t *testing.T) {
	f := newChatFixture(t, nil)

	res := f.send(t, "wamid.1", "chest pain and breathing difficulty")
	if !res.Decision.Emergency || res.Decision.Urgency != models.UrgencyCritical {
		t.Fatalf("decision = %+v, want critical emergency", res.Decision)
	}

	got := channels(res.Jobs)
	for _, ch := range []models.DispatchChannel{models.ChannelUserReply, models.ChannelAdminAlert, models.ChannelSMS} {
		if got[ch] != models.UrgencyCritical {
			t.Errorf("%s job urgency = %v, want critical (jobs %v)", ch, got[ch], got)
		}
	}
	if len(res.Jobs) != 3 {
		t.Errorf("jobs = %d, want 3", len(res.Jobs))
	}

	f.dispatch.Wait()
	sms := f.sms.Sent()
	if len(sms) != 1 || sms[0].To != "+919876543210" {
		t.Errorf("sms sent = %+v", sms)
	}
	if f.chat.Attempts(testAdmin) != 1 {
		t.Errorf("admin attempts = %d, want 1", f.chat.Attempts(testAdmin))
	}
	if o := res.Decision.Outcome; o == nil || o.RuleIDs[0] != "cardiac-respiratory" {
		t.Errorf("outcome = %+v", o)
	}
}

func TestMildHeadacheRepliesOnly(t *testing.T) {
	f := newChatFixture(t, nil)

	res := f.send(t, "wamid.1", "mild headache")
	o := res.Decision.Outcome
	if o == nil {
		t.Fatal("expected a triage outcome")
	}
	if o.Urgency != models.UrgencyLow || o.RecommendationKey != "rest-and-hydrate" {
		t.Errorf("outcome = %+v, want low/rest-and-hydrate", o)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Channel != models.ChannelUserReply {
		t.Errorf("jobs = %v, want a single user reply", channels(res.Jobs))
	}
	if res.State != models.StateIdle {
		t.Errorf("state = %s, want idle", res.State)
	}
	if !strings.Contains(res.Decision.Reply.Text, "Rest, drink plenty of water") {
		t.Errorf("reply = %q", res.Decision.Reply.Text)
	}
}

func TestNearMissesOfEmergencyWordsDoNotEscalate(t *testing.T) {
	for i, text := range []string{"i am cooking dinner now", "is strake serious"} {
		f := newChatFixture(t, nil)
		res := f.send(t, fmt.Sprintf("wamid.%d", i), text)
		if res.Decision.Emergency || res.Decision.Intent == models.IntentEmergency {
			t.Errorf("%q: decision = %+v, want no emergency", text, res.Decision)
		}
		got := f.jobsByChannel(t)
		if got[models.ChannelAdminAlert] != 0 || got[models.ChannelSMS] != 0 {
			t.Errorf("%q: jobs = %v, want no alert or sms", text, got)
		}
	}
}

func TestGibberishAsksForClarification(t *testing.T) {
	f := newChatFixture(t, nil)

	res := f.send(t, "wamid.1", "zxcvb qwrtp")
	if res.State != models.StateAwaitingClarification {
		t.Fatalf("state = %s, want awaiting_clarification", res.State)
	}
	if res.Decision.Intent != models.IntentUnknown {
		t.Errorf("intent = %s, want unknown", res.Decision.Intent)
	}
	if len(res.Decision.Reply.Options) != 4 {
		t.Errorf("menu options = %d, want 4", len(res.Decision.Reply.Options))
	}
	if len(res.Jobs) != 1 || res.Decision.Outcome != nil {
		t.Errorf("expected only a reply job and no triage, got %d jobs", len(res.Jobs))
	}

	// A second unintelligible message ends the clarification round.
	res = f.send(t, "wamid.2", "qqq www")
	if res.State != models.StateIdle {
		t.Errorf("state after second attempt = %s, want idle", res.State)
	}
	if len(res.Decision.Reply.Options) == 0 {
		t.Error("fallback reply should carry the menu")
	}
}

func TestClarificationMenuSelection(t *testing.T) {
	f := newChatFixture(t, nil)
	f.send(t, "wamid.1", "zxcvb qwrtp")

	res, err := f.svc.ProcessMessage(context.Background(), models.InboundMessage{
		From:              testUser,
		Text:              "Medicine info",
		ReplyID:           "menu_medicine",
		ProviderMessageID: "wamid.2",
		Transport:         models.TransportWhatsApp,
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.Decision.Intent != models.IntentMedicineQuery || res.State != models.StateIdle {
		t.Errorf("intent = %s state = %s", res.Decision.Intent, res.State)
	}

	// Typed option numbers work while the menu is open.
	f.send(t, "wamid.3", "zxcvb qwrtp")
	res = f.send(t, "wamid.4", "3")
	if res.Decision.Intent != models.IntentFacilityQuery {
		t.Errorf("typed menu choice intent = %s", res.Decision.Intent)
	}
}

func TestEmergencyCooldownSuppressesDuplicateAlerts(t *testing.T) {
	f := newChatFixture(t, nil)

	first := f.send(t, "wamid.1", "heart attack")
	f.clock = f.clock.Add(time.Minute)
	second := f.send(t, "wamid.2", "heart attack please help")

	if !first.Decision.Emergency || !second.Decision.Emergency {
		t.Fatal("both messages should be emergencies")
	}
	if !second.Decision.SuppressAlerts {
		t.Error("second emergency inside the window should suppress alerts")
	}
	counts := f.jobsByChannel(t)
	if counts[models.ChannelUserReply] != 2 {
		t.Errorf("user replies = %d, want 2", counts[models.ChannelUserReply])
	}
	if counts[models.ChannelAdminAlert] != 1 || counts[models.ChannelSMS] != 1 {
		t.Errorf("alerts = %v, want one admin alert and one sms", counts)
	}

	// After the window a new escalation alerts again.
	f.clock = f.clock.Add(10 * time.Minute)
	third := f.send(t, "wamid.3", "heart attack")
	if third.Decision.SuppressAlerts {
		t.Error("window should have expired")
	}
	if counts := f.jobsByChannel(t); counts[models.ChannelAdminAlert] != 2 {
		t.Errorf("admin alerts after window = %d, want 2", counts[models.ChannelAdminAlert])
	}
}

func TestRedeliveredMessageIsIgnored(t *testing.T) {
	f := newChatFixture(t, nil)

	f.send(t, "wamid.same", "hello")
	_, err := f.svc.ProcessMessage(context.Background(), models.InboundMessage{
		From:              testUser,
		Text:              "hello",
		ProviderMessageID: "wamid.same",
		Transport:         models.TransportWhatsApp,
	})
	if !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("err = %v, want ErrDuplicateTurn", err)
	}
	f.dispatch.Wait()
	if n := len(f.chat.Sent()); n != 1 {
		t.Errorf("replies sent = %d, want 1", n)
	}
}

func TestMultiTurnTriage(t *testing.T) {
	f := newChatFixture(t, nil)

	res := f.send(t, "wamid.1", "I have a headache")
	if res.State != models.StateInTriageFlow || res.Decision.Outcome != nil {
		t.Fatalf("first turn: state = %s outcome = %+v", res.State, res.Decision.Outcome)
	}
	res = f.send(t, "wamid.2", "fever too")
	if res.State != models.StateInTriageFlow {
		t.Fatalf("second turn: state = %s", res.State)
	}
	res = f.send(t, "wamid.3", "no")
	if res.State != models.StateIdle {
		t.Fatalf("third turn: state = %s", res.State)
	}
	o := res.Decision.Outcome
	if o == nil || o.RuleIDs[0] != "fever-headache" || o.Urgency != models.UrgencyModerate {
		t.Errorf("outcome = %+v, want fever-headache at moderate", o)
	}

	sess, err := f.stores.Sessions.Get(context.Background(), f.svc.UserKey(testUser))
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if len(sess.CollectedSymptoms) != 0 || sess.TriageTurns != 0 {
		t.Errorf("triage scratch data not reset: %+v", sess)
	}
	if len(sess.History) != 3 {
		t.Errorf("history = %d entries, want 3", len(sess.History))
	}
}

func TestStoreFailureRepliesTryAgainWithoutCommit(t *testing.T) {
	offline := errors.New("store offline")
	store := &failingStore{SessionRepository: database.NewMemorySessionStore(time.Hour), putErr: offline}
	f := newChatFixture(t, store)

	res, err := f.svc.ProcessMessage(context.Background(), models.InboundMessage{
		From:              testUser,
		Text:              "I have a headache",
		ProviderMessageID: "wamid.1",
		Transport:         models.TransportWhatsApp,
	})
	if !errors.Is(err, offline) {
		t.Fatalf("err = %v, want store error", err)
	}
	if !strings.Contains(res.Decision.Reply.Text, "try again") {
		t.Errorf("reply = %q, want try-again", res.Decision.Reply.Text)
	}
	f.dispatch.Wait()
	if sent := f.chat.Sent(); len(sent) != 1 {
		t.Errorf("sent = %d messages, want 1", len(sent))
	}

	store.putErr = nil
	if _, err := store.Get(context.Background(), f.svc.UserKey(testUser)); !errors.Is(err, database.ErrSessionNotFound) {
		t.Errorf("session was committed despite the failure: %v", err)
	}

	// The redelivered message now gets the real answer.
	res = f.send(t, "wamid.1", "I have a headache")
	if res.State != models.StateInTriageFlow {
		t.Errorf("state after recovery = %s", res.State)
	}
}

func TestWebTurnHasNoSMS(t *testing.T) {
	f := newChatFixture(t, nil)

	res, err := f.svc.ProcessMessage(context.Background(), models.InboundMessage{
		From:      "web-user-1",
		Text:      "chest pain and breathing difficulty",
		Transport: models.TransportAPI,
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	got := channels(res.Jobs)
	if _, ok := got[models.ChannelSMS]; ok {
		t.Error("web users have no number for sms")
	}
	if _, ok := got[models.ChannelAdminAlert]; !ok {
		t.Error("admin alert missing")
	}
	if res.Decision.TurnID == "" {
		t.Error("api turns get a generated turn id")
	}
}

func TestReloadRejectsInvalidTables(t *testing.T) {
	f := newChatFixture(t, nil)
	before := f.svc.Tables()

	bad := &config.Tables{
		Phrases:  before.Phrases,
		Rules:    &config.RuleTable{DefaultRule: before.Rules.DefaultRule},
		Messages: before.Messages,
	}
	if err := f.svc.Reload(bad); !errors.Is(err, config.ErrInvalidTables) {
		t.Fatalf("Reload err = %v, want ErrInvalidTables", err)
	}
	if f.svc.Tables() != before {
		t.Error("invalid tables replaced the active ones")
	}
}
