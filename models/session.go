package models

import "time"

// FlowState is the per-user conversation state.
type FlowState string

const (
	StateIdle                  FlowState = "idle"
	StateAwaitingClarification FlowState = "awaiting_clarification"
	StateInTriageFlow          FlowState = "in_triage_flow"
)

// SessionSchemaVersion is bumped whenever the persisted layout changes.
// Version 1 records had no cooldown window id and no triage turn counter.
const SessionSchemaVersion = 2

// Exchange is one entry of the rolling history window. It never carries the
// raw message text.
type Exchange struct {
	TurnID   string        `json:"turn_id,omitempty" bson:"turn_id,omitempty"`
	At       time.Time     `json:"at" bson:"at"`
	Intent   MessageIntent `json:"intent" bson:"intent"`
	Language Language      `json:"language" bson:"language"`
	Tokens   []string      `json:"tokens,omitempty" bson:"tokens,omitempty"`
	Urgency  UrgencyTier   `json:"urgency" bson:"urgency"`
}

// ConversationSession holds the state carried across turns for one user.
// UserKey is the salted hash of the sender address, never the address itself.
type ConversationSession struct {
	UserKey               string        `json:"user_key" bson:"user_key"`
	SchemaVersion         int           `json:"schema_version" bson:"schema_version"`
	State                 FlowState     `json:"state" bson:"state"`
	PreferredLanguage     Language      `json:"preferred_language,omitempty" bson:"preferred_language,omitempty"`
	History               []Exchange    `json:"history,omitempty" bson:"history,omitempty"`
	PendingText           string        `json:"pending_text,omitempty" bson:"pending_text,omitempty"`
	PendingIntent         MessageIntent `json:"pending_intent,omitempty" bson:"pending_intent,omitempty"`
	ClarificationAttempts int           `json:"clarification_attempts" bson:"clarification_attempts"`
	CollectedSymptoms     []string      `json:"collected_symptoms,omitempty" bson:"collected_symptoms,omitempty"`
	TriageTurns           int           `json:"triage_turns" bson:"triage_turns"`
	LastActivity          time.Time     `json:"last_activity" bson:"last_activity"`
	EmergencyCooldownTill time.Time     `json:"emergency_cooldown_until" bson:"emergency_cooldown_until"`
	CooldownWindowID      string        `json:"cooldown_window_id,omitempty" bson:"cooldown_window_id,omitempty"`
	CreatedAt             time.Time     `json:"created_at" bson:"created_at"`
}

func NewSession(userKey string, now time.Time) *ConversationSession {
	return &ConversationSession{
		UserKey:       userKey,
		SchemaVersion: SessionSchemaVersion,
		State:         StateIdle,
		LastActivity:  now,
		CreatedAt:     now,
	}
}

// Clone returns a deep copy so a turn can mutate state without touching the
// committed record until it is written back.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.History != nil {
		c.History = make([]Exchange, len(s.History))
		for i, e := range s.History {
			e.Tokens = append([]string(nil), e.Tokens...)
			c.History[i] = e
		}
	}
	c.CollectedSymptoms = append([]string(nil), s.CollectedSymptoms...)
	return &c
}

// Upgrade brings a record written by an older schema version up to date.
func (s *ConversationSession) Upgrade() {
	if s.SchemaVersion >= SessionSchemaVersion {
		return
	}
	if s.SchemaVersion < 2 {
		if s.CooldownWindowID == "" && !s.EmergencyCooldownTill.IsZero() {
			s.CooldownWindowID = s.EmergencyCooldownTill.UTC().Format(time.RFC3339)
		}
		if s.State == StateInTriageFlow && s.TriageTurns == 0 {
			s.TriageTurns = 1
		}
	}
	if s.State == "" {
		s.State = StateIdle
	}
	s.SchemaVersion = SessionSchemaVersion
}

// Expired reports whether the session has been inactive for longer than ttl.
func (s *ConversationSession) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastActivity) > ttl
}

// InCooldown reports whether an emergency escalation happened recently enough
// that admin/SMS alerts must be suppressed.
func (s *ConversationSession) InCooldown(now time.Time) bool {
	return !s.EmergencyCooldownTill.IsZero() && now.Before(s.EmergencyCooldownTill)
}

// Remember appends an exchange, keeping only the last max entries.
func (s *ConversationSession) Remember(e Exchange, max int) {
	s.History = append(s.History, e)
	if max > 0 && len(s.History) > max {
		s.History = append([]Exchange(nil), s.History[len(s.History)-max:]...)
	}
}

// SeenTurn reports whether a turn id is still in the history window, which
// identifies a redelivered provider message.
func (s *ConversationSession) SeenTurn(turnID string) bool {
	if turnID == "" {
		return false
	}
	for _, e := range s.History {
		if e.TurnID == turnID {
			return true
		}
	}
	return false
}

// ResetFlow returns the session to idle and clears per-flow scratch data.
func (s *ConversationSession) ResetFlow() {
	s.State = StateIdle
	s.PendingText = ""
	s.PendingIntent = ""
	s.ClarificationAttempts = 0
	s.CollectedSymptoms = nil
	s.TriageTurns = 0
}
