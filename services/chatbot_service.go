package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/utils"
)

var (
	// ErrDuplicateTurn is returned for a message whose id was already
	// processed, such as a webhook redelivery.
	ErrDuplicateTurn = errors.New("turn already processed")

	errDispatchFailed = errors.New("dispatch failed")
)

// pipeline bundles everything derived from one set of knowledge tables.
// It is swapped as a whole on reload and never mutated.
type pipeline struct {
	tables     *config.Tables
	identifier *utils.LanguageIdentifier
	classifier *utils.IntentClassifier
	detector   *utils.EmergencyDetector
	engine     *TriageEngine
}

func buildPipeline(tables *config.Tables, cfg config.TriageConfig) (*pipeline, error) {
	engine, err := NewTriageEngine(tables.Rules)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		tables:     tables,
		identifier: utils.NewLanguageIdentifier(tables.Phrases, cfg),
		classifier: utils.NewIntentClassifier(tables.Phrases, cfg),
		detector:   utils.NewEmergencyDetector(tables.Phrases, cfg),
		engine:     engine,
	}, nil
}

func (p *pipeline) text(key string, lang models.Language, vars map[string]string) string {
	return p.tables.Messages.Text(key, lang, vars)
}

// menu renders the clarification menu in lang.
func (p *pipeline) menu(lang models.Language) []models.MenuOption {
	opts := make([]models.MenuOption, 0, len(p.tables.Phrases.Menu))
	for _, m := range p.tables.Phrases.Menu {
		opts = append(opts, models.MenuOption{
			ID:    m.ID,
			Title: p.text(strings.ReplaceAll(m.ID, "_", "-"), lang, nil),
		})
	}
	return opts
}

// TurnResult is the outcome of one processed inbound message.
type TurnResult struct {
	Decision models.Decision
	State    models.FlowState
	Jobs     []*models.DispatchJob
}

// ChatResponse renders the result for the synchronous chat API.
func (r *TurnResult) ChatResponse() *models.ChatResponse {
	resp := &models.ChatResponse{
		Response:  r.Decision.Reply.Text,
		Intent:    r.Decision.Intent,
		Language:  r.Decision.Language,
		Urgency:   r.Decision.Urgency,
		State:     r.State,
		Options:   r.Decision.Reply.Options,
		Emergency: r.Decision.Emergency,
		Jobs:      len(r.Jobs),
		TurnID:    r.Decision.TurnID,
	}
	if o := r.Decision.Outcome; o != nil {
		resp.RuleIDs = o.RuleIDs
		resp.Recommended = o.RecommendationKey
	}
	return resp
}

// ChatbotService is the conversation orchestrator. Each inbound message is
// one turn: the user's session is loaded under a per-user lock, the
// pipeline runs, the session is written back and the resulting decision is
// handed to dispatch before the lock is released.
type ChatbotService struct {
	cfg       config.TriageConfig
	tablesCfg config.TablesConfig
	sessions  *SessionManager
	dispatch  *DispatchCoordinator
	identity  *utils.Identity
	log       zerolog.Logger
	now       func() time.Time

	pipe      atomic.Pointer[pipeline]
	processed atomic.Int64
	failed    atomic.Int64
}

func NewChatbotService(cfg *config.Config, tables *config.Tables, sessions *SessionManager, dispatch *DispatchCoordinator) (*ChatbotService, error) {
	s := &ChatbotService{
		cfg:       cfg.Triage,
		tablesCfg: cfg.Tables,
		sessions:  sessions,
		dispatch:  dispatch,
		identity:  utils.NewIdentity(cfg.Triage.IdentitySalt),
		log:       logger.Component("chatbot"),
		now:       time.Now,
	}
	if err := s.Reload(tables); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload swaps in a new set of knowledge tables. Turns already running keep
// the pipeline they started with.
func (s *ChatbotService) Reload(tables *config.Tables) error {
	if err := tables.Validate(); err != nil {
		return err
	}
	p, err := buildPipeline(tables, s.cfg)
	if err != nil {
		return err
	}
	s.pipe.Store(p)
	return nil
}

// ReloadFromConfig re-reads the tables from the configured paths. Invalid
// tables are rejected and the current ones stay active.
func (s *ChatbotService) ReloadFromConfig() error {
	tables, err := config.LoadTables(s.tablesCfg)
	if err != nil {
		return err
	}
	if err := s.Reload(tables); err != nil {
		return err
	}
	s.log.Info().Msg("knowledge tables reloaded")
	return nil
}

// Tables returns the active knowledge tables.
func (s *ChatbotService) Tables() *config.Tables {
	return s.pipe.Load().tables
}

// UserKey returns the opaque key of a sender address.
func (s *ChatbotService) UserKey(address string) string {
	return s.identity.UserKey(address)
}

// Stats reports turn counters since start.
func (s *ChatbotService) Stats() (processed, failed int64) {
	return s.processed.Load(), s.failed.Load()
}

// ProcessMessage runs one conversation turn. On a session store failure the
// user gets a generic try-again reply, nothing is committed and the store
// error is returned.
func (s *ChatbotService) ProcessMessage(ctx context.Context, msg models.InboundMessage) (*TurnResult, error) {
	now := s.now()
	if msg.Transport == "" {
		msg.Transport = models.TransportWhatsApp
	}
	turnID := msg.ProviderMessageID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	userKey := s.identity.UserKey(msg.From)
	p := s.pipe.Load()

	ctx = logger.WithRequestID(ctx, turnID)
	log := logger.FromContext(ctx).With().
		Str("component", "chatbot").
		Str("user", logger.ShortKey(userKey)).
		Str("transport", string(msg.Transport)).
		Logger()

	t := &turn{
		svc:     s,
		p:       p,
		msg:     msg,
		now:     now,
		userKey: userKey,
		turnID:  turnID,
		text:    utils.Truncate(msg.Text, s.cfg.MaxInputRunes),
	}

	result := &TurnResult{}
	err := s.sessions.Transact(ctx, userKey, now, func(sess *models.ConversationSession) error {
		if sess.SeenTurn(turnID) {
			return ErrDuplicateTurn
		}
		result.Decision = t.run(sess)
		result.State = sess.State
		return nil
	}, func() error {
		jobs, err := s.dispatch.Dispatch(ctx, result.Decision)
		result.Jobs = jobs
		if err != nil {
			return fmt.Errorf("%w: %v", errDispatchFailed, err)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateTurn) {
		log.Debug().Msg("duplicate message ignored")
		return nil, err
	}
	s.processed.Add(1)
	if err == nil {
		log.Info().
			Str("intent", string(result.Decision.Intent)).
			Str("language", string(result.Decision.Language)).
			Str("urgency", result.Decision.Urgency.String()).
			Bool("emergency", result.Decision.Emergency).
			Str("state", string(result.State)).
			Int("jobs", len(result.Jobs)).
			Msg("turn processed")
		return result, nil
	}

	s.failed.Add(1)
	log.Error().Err(err).Msg("turn failed")
	if errors.Is(err, errDispatchFailed) {
		// The session is already committed; only the jobs are missing.
		return result, err
	}
	return s.tryAgain(ctx, t, err)
}

// tryAgain answers a failed turn with the generic apology. Its reply job is
// scoped apart from the turn so a redelivery of the same message can still
// produce the real answer.
func (s *ChatbotService) tryAgain(ctx context.Context, t *turn, cause error) (*TurnResult, error) {
	lang, _ := t.p.identifier.Resolve(t.text, "")
	dec := t.decision(lang, models.IntentUnknown)
	dec.TurnID = t.turnID + "#try-again"
	dec.Reply = models.Payload{Text: t.p.text("try-again", lang, t.vars())}

	result := &TurnResult{Decision: dec, State: models.StateIdle}
	jobs, err := s.dispatch.Dispatch(ctx, dec)
	if err != nil {
		s.log.Error().Err(err).Str("user", logger.ShortKey(t.userKey)).Msg("try-again reply not queued")
	}
	result.Jobs = jobs
	return result, fmt.Errorf("turn %s: %w", t.turnID, cause)
}

// turn carries the per-message inputs through the state machine.
type turn struct {
	svc     *ChatbotService
	p       *pipeline
	msg     models.InboundMessage
	now     time.Time
	userKey string
	turnID  string
	text    string
}

func (t *turn) vars() map[string]string {
	return map[string]string{"emergency_number": t.svc.cfg.EmergencyNumber}
}

func (t *turn) decision(lang models.Language, intent models.MessageIntent) models.Decision {
	dec := models.Decision{
		TurnID:    t.turnID,
		UserKey:   t.userKey,
		Recipient: t.msg.From,
		Transport: t.msg.Transport,
		Language:  lang,
		Intent:    intent,
		Source:    models.SourceConversation,
		Urgency:   models.UrgencyNone,
	}
	if t.msg.Transport == models.TransportWhatsApp {
		if digits := utils.CleanPhoneNumber(t.msg.From); digits != "" {
			dec.SMSRecipient = "+" + digits
		}
	}
	return dec
}

// contact is how admins reach the user back. Web users have no number.
func (t *turn) contact() string {
	if t.msg.Transport == models.TransportWhatsApp {
		return "+" + utils.CleanPhoneNumber(t.msg.From)
	}
	return "web user " + logger.ShortKey(t.userKey)
}

func (t *turn) run(sess *models.ConversationSession) models.Decision {
	lang, langConf := t.p.identifier.Resolve(t.text, sess.PreferredLanguage)
	if langConf >= t.svc.cfg.LanguageThreshold && langConf > 0 {
		sess.PreferredLanguage = lang
	}

	cls := t.p.classifier.ClassifyIntent(t.text, lang)
	if intent, ok := t.menuChoice(sess); ok {
		cls.Intent, cls.Confidence, cls.LowConfidence = intent, 1, false
	}

	var dec models.Decision
	signals := t.p.detector.Signals(t.text, lang, cls)
	switch {
	case len(signals) > 0 || (cls.Intent == models.IntentEmergency && !cls.LowConfidence):
		dec = t.emergency(sess, lang, cls, signals)
	case sess.State == models.StateInTriageFlow:
		dec = t.continueTriage(sess, lang, cls)
	case sess.State == models.StateAwaitingClarification:
		dec = t.clarify(sess, lang, cls)
	case cls.LowConfidence:
		dec = t.lowConfidence(sess, lang, cls)
	default:
		dec = t.act(sess, lang, cls)
	}

	sess.Remember(models.Exchange{
		TurnID:   t.turnID,
		At:       t.now,
		Intent:   dec.Intent,
		Language: lang,
		Tokens:   cls.SymptomTokens,
		Urgency:  dec.Urgency,
	}, t.svc.cfg.HistoryWindow)
	return dec
}

// menuChoice resolves a tapped option, or a typed option number while a
// clarification menu is open.
func (t *turn) menuChoice(sess *models.ConversationSession) (models.MessageIntent, bool) {
	if t.msg.ReplyID != "" {
		if intent, ok := t.p.classifier.MenuIntent(t.msg.ReplyID); ok {
			return intent, true
		}
	}
	if sess.State == models.StateAwaitingClarification {
		return t.p.classifier.MenuIntent(t.text)
	}
	return "", false
}

func (t *turn) emergency(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult, signals []utils.EmergencySignal) models.Decision {
	dec := t.decision(lang, models.IntentEmergency)
	dec.Emergency = true
	dec.Urgency = models.UrgencyCritical

	tokens := mergeTokens(sess.CollectedSymptoms, cls.SymptomTokens)
	if hasSymptom(tokens) {
		outcome := t.p.engine.Triage(tokens, lang)
		dec.Outcome = &outcome
	}

	if sess.InCooldown(t.now) {
		dec.SuppressAlerts = true
	} else {
		sess.EmergencyCooldownTill = t.now.Add(t.svc.cfg.EmergencyCooldown)
		sess.CooldownWindowID = t.now.UTC().Format(time.RFC3339)
	}
	dec.CooldownWindowID = sess.CooldownWindowID

	vars := t.vars()
	dec.Reply = models.Payload{Text: t.p.text("emergency", lang, vars)}
	dec.SMS = models.Payload{Text: t.p.text("emergency-sms", lang, vars)}
	dec.Alert = models.Payload{Text: t.p.text("admin-emergency-alert", models.LangEnglish, t.alertVars(dec.Urgency, tokens, signals))}

	kinds := make([]string, 0, len(signals))
	for _, sig := range signals {
		kinds = append(kinds, sig.Kind+":"+sig.Detail)
	}
	t.svc.log.Warn().
		Str("user", logger.ShortKey(t.userKey)).
		Strs("signals", kinds).
		Bool("suppressed", dec.SuppressAlerts).
		Msg("emergency detected")

	sess.ResetFlow()
	return dec
}

func (t *turn) alertVars(urgency models.UrgencyTier, tokens []string, signals []utils.EmergencySignal) map[string]string {
	symptoms := displaySymptoms(tokens)
	if symptoms == "" && len(signals) > 0 {
		details := make([]string, 0, len(signals))
		for _, sig := range signals {
			details = append(details, sig.Detail)
		}
		symptoms = strings.Join(details, ", ")
	}
	if symptoms == "" {
		symptoms = "not stated"
	}
	return map[string]string{
		"user":     t.contact(),
		"urgency":  urgency.String(),
		"symptoms": symptoms,
		"time":     t.now.UTC().Format("2006-01-02 15:04 UTC"),
	}
}

// lowConfidence opens a clarification round, or answers best-effort when
// clarification is disabled.
func (t *turn) lowConfidence(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	if sess.ClarificationAttempts >= t.svc.cfg.ClarificationAttempts {
		return t.bestEffort(sess, lang, cls)
	}
	sess.State = models.StateAwaitingClarification
	sess.PendingText = utils.Normalize(t.text, t.svc.cfg.MaxInputRunes)
	sess.PendingIntent = cls.Intent
	sess.ClarificationAttempts++

	dec := t.decision(lang, cls.Intent)
	dec.Reply = t.menuPayload("clarify", lang)
	return dec
}

// clarify re-classifies with the pending message as context. The better of
// the new message alone and the combined text wins.
func (t *turn) clarify(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	best := cls
	if sess.PendingText != "" {
		combined := t.p.classifier.ClassifyIntent(sess.PendingText+" "+t.text, lang)
		if combined.Confidence > best.Confidence {
			best = combined
		}
	}
	if !best.LowConfidence {
		return t.act(sess, lang, best)
	}
	if sess.ClarificationAttempts < t.svc.cfg.ClarificationAttempts {
		return t.lowConfidence(sess, lang, best)
	}
	return t.bestEffort(sess, lang, best)
}

// bestEffort ends clarification: a guessed intent is acted upon, an unknown
// one gets the fallback menu and the conversation returns to idle.
func (t *turn) bestEffort(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	if cls.Intent != models.IntentUnknown {
		return t.act(sess, lang, cls)
	}
	sess.ResetFlow()
	dec := t.decision(lang, models.IntentUnknown)
	dec.Reply = t.menuPayload("fallback", lang)
	return dec
}

func (t *turn) menuPayload(key string, lang models.Language) models.Payload {
	return models.Payload{
		Text:    t.p.text(key, lang, t.vars()),
		Options: t.p.menu(lang),
		Button:  t.p.text("menu-button", lang, nil),
	}
}

// act answers a resolved intent from the idle state.
func (t *turn) act(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	sess.ResetFlow()
	dec := t.decision(lang, cls.Intent)
	switch cls.Intent {
	case models.IntentSymptomQuery:
		return t.startTriage(sess, lang, cls)
	case models.IntentMedicineQuery:
		dec.Reply = models.Payload{Text: t.p.text("medicine-info", lang, t.vars())}
	case models.IntentFacilityQuery:
		dec.Reply = models.Payload{Text: t.p.text("facility-info", lang, t.vars())}
	case models.IntentGreeting:
		dec.Reply = t.menuPayload("greeting", lang)
	default:
		dec.Reply = t.menuPayload("fallback", lang)
	}
	return dec
}

func (t *turn) startTriage(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	sess.State = models.StateInTriageFlow
	sess.TriageTurns = 1
	sess.CollectedSymptoms = mergeTokens(nil, cls.SymptomTokens)
	if !hasSymptom(sess.CollectedSymptoms) {
		dec := t.decision(lang, models.IntentSymptomQuery)
		dec.Reply = models.Payload{Text: t.p.text("symptom-prompt", lang, t.vars())}
		return dec
	}
	if t.readyForTriage(sess) {
		return t.finishTriage(sess, lang)
	}
	return t.followUp(sess, lang)
}

// continueTriage collects more symptoms. Collection ends when a turn adds
// nothing new or the turn cap is reached. A confident switch to another
// topic abandons the flow.
func (t *turn) continueTriage(sess *models.ConversationSession, lang models.Language, cls models.ClassificationResult) models.Decision {
	if !cls.LowConfidence && len(cls.SymptomTokens) == 0 && cls.Intent != models.IntentSymptomQuery {
		return t.act(sess, lang, cls)
	}

	sess.TriageTurns++
	before := len(sess.CollectedSymptoms)
	sess.CollectedSymptoms = mergeTokens(sess.CollectedSymptoms, cls.SymptomTokens)
	added := len(sess.CollectedSymptoms) > before

	if !hasSymptom(sess.CollectedSymptoms) {
		if !added && sess.TriageTurns >= t.svc.cfg.TriageTurnCap {
			return t.bestEffort(sess, lang, models.ClassificationResult{Intent: models.IntentUnknown})
		}
		dec := t.decision(lang, models.IntentSymptomQuery)
		dec.Reply = models.Payload{Text: t.p.text("symptom-prompt", lang, t.vars())}
		return dec
	}
	if !added || t.readyForTriage(sess) {
		return t.finishTriage(sess, lang)
	}
	return t.followUp(sess, lang)
}

// readyForTriage skips further questions once severity is stated, the
// collected symptoms already warrant urgent care, or the turn cap is hit.
func (t *turn) readyForTriage(sess *models.ConversationSession) bool {
	if sess.TriageTurns >= t.svc.cfg.TriageTurnCap {
		return true
	}
	for _, tok := range sess.CollectedSymptoms {
		if models.IsModifierToken(tok) {
			return true
		}
	}
	return t.p.engine.Peek(sess.CollectedSymptoms) >= models.UrgencyHigh
}

func (t *turn) followUp(sess *models.ConversationSession, lang models.Language) models.Decision {
	dec := t.decision(lang, models.IntentSymptomQuery)
	vars := t.vars()
	vars["symptoms"] = displaySymptoms(sess.CollectedSymptoms)
	dec.Reply = models.Payload{Text: t.p.text("triage-follow-up", lang, vars)}
	return dec
}

func (t *turn) finishTriage(sess *models.ConversationSession, lang models.Language) models.Decision {
	outcome := t.p.engine.Triage(sess.CollectedSymptoms, lang)
	dec := t.decision(lang, models.IntentSymptomQuery)
	dec.Urgency = outcome.Urgency
	dec.Outcome = &outcome

	vars := t.vars()
	vars["symptoms"] = displaySymptoms(outcome.SymptomTokens)
	vars["urgency"] = outcome.Urgency.String()
	vars["advice"] = t.p.text(outcome.RecommendationKey, lang, vars)
	dec.Reply = models.Payload{Text: t.p.text("triage-result", lang, vars)}

	if outcome.Urgency >= models.UrgencyHigh {
		dec.Alert = models.Payload{Text: t.p.text("admin-urgent-alert", models.LangEnglish,
			t.alertVars(outcome.Urgency, outcome.SymptomTokens, nil))}
	}
	if outcome.Urgency == models.UrgencyCritical {
		dec.SMS = models.Payload{Text: t.p.text("emergency-sms", lang, vars)}
	}

	sess.ResetFlow()
	return dec
}

func mergeTokens(have, add []string) []string {
	seen := make(map[string]bool, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, list := range [][]string{have, add} {
		for _, tok := range list {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	sort.Strings(out)
	return out
}

func hasSymptom(tokens []string) bool {
	for _, tok := range tokens {
		if !models.IsModifierToken(tok) {
			return true
		}
	}
	return false
}

// displaySymptoms renders symptom tokens for a message, dropping severity
// modifiers.
func displaySymptoms(tokens []string) string {
	names := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if models.IsModifierToken(tok) {
			continue
		}
		names = append(names, strings.ReplaceAll(tok, "-", " "))
	}
	return strings.Join(names, ", ")
}
