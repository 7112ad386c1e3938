package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DispatchChannel is the notification channel of a dispatch job.
type DispatchChannel string

const (
	ChannelUserReply  DispatchChannel = "user_reply"
	ChannelSMS        DispatchChannel = "sms"
	ChannelAdminAlert DispatchChannel = "admin_alert"
)

// MessageTransport tells the delivery layer how a user reply reaches the user.
type MessageTransport string

const (
	TransportWhatsApp MessageTransport = "whatsapp"
	TransportWeb      MessageTransport = "web"
	TransportAPI      MessageTransport = "api"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSent      JobStatus = "sent"
	JobFailed    JobStatus = "failed"
	JobExhausted JobStatus = "exhausted"
)

// Terminal reports whether no further delivery attempt will be made.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobExhausted
}

// AdminGroupRecipient addresses every configured admin phone number.
const AdminGroupRecipient = "admin-group"

// MenuOption is one selectable entry of an interactive reply.
type MenuOption struct {
	ID          string `json:"id" bson:"id"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// Payload is the channel-neutral content of an outbound notification.
type Payload struct {
	Text    string       `json:"text" bson:"text"`
	Header  string       `json:"header,omitempty" bson:"header,omitempty"`
	Options []MenuOption `json:"options,omitempty" bson:"options,omitempty"`

	// Button labels the list picker when there are too many options for
	// reply buttons.
	Button string `json:"button,omitempty" bson:"button,omitempty"`
}

// DispatchJob is a single outbound notification with its own retry state.
type DispatchJob struct {
	IdempotenceKey string           `json:"idempotence_key" bson:"idempotence_key"`
	TurnID         string           `json:"turn_id" bson:"turn_id"`
	UserKey        string           `json:"user_key" bson:"user_key"`
	Channel        DispatchChannel  `json:"channel" bson:"channel"`
	Transport      MessageTransport `json:"transport,omitempty" bson:"transport,omitempty"`
	Recipient      string           `json:"-" bson:"recipient"`
	Payload        Payload          `json:"payload" bson:"payload"`
	Urgency        UrgencyTier      `json:"urgency" bson:"urgency"`
	Outcome        *TriageOutcome   `json:"outcome,omitempty" bson:"outcome,omitempty"`
	AttemptCount   int              `json:"attempt_count" bson:"attempt_count"`
	Status         JobStatus        `json:"status" bson:"status"`
	LastError      string           `json:"last_error,omitempty" bson:"last_error,omitempty"`
	DeliveredTo    []string         `json:"-" bson:"delivered_to,omitempty"`
	CreatedAt      time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" bson:"updated_at"`
}

// WasDeliveredTo reports whether the member of a group recipient already got
// this job.
func (j *DispatchJob) WasDeliveredTo(member string) bool {
	for _, m := range j.DeliveredTo {
		if m == member {
			return true
		}
	}
	return false
}

// IdempotenceKey derives the key of a job from the scope it must be unique
// in. Conversation jobs use the turn id as scope; suppressed-alert jobs use
// the emergency cooldown window id.
func IdempotenceKey(userKey, scope string, channel DispatchChannel) string {
	h := sha256.Sum256([]byte(userKey + "|" + scope + "|" + string(channel)))
	return hex.EncodeToString(h[:16])
}

// DecisionSource distinguishes conversation turns from operator alerts.
type DecisionSource string

const (
	SourceConversation DecisionSource = "conversation"
	SourceAdmin        DecisionSource = "admin"
)

// Decision is what the engine hands to the dispatch coordinator.
type Decision struct {
	TurnID    string
	UserKey   string
	Recipient string
	Transport MessageTransport
	Language  Language
	Intent    MessageIntent
	Source    DecisionSource

	// SMSRecipient is the E.164 number for SMS jobs; empty when the user
	// has no phone number on record, such as web chat users.
	SMSRecipient string

	Urgency   UrgencyTier
	Emergency bool
	Outcome   *TriageOutcome

	// CooldownWindowID scopes admin/SMS alert keys for emergencies so that
	// repeated triggers inside one window collapse to a single alert.
	CooldownWindowID string
	// SuppressAlerts is set within an active emergency cooldown window.
	SuppressAlerts bool

	Reply Payload
	Alert Payload
	SMS   Payload
}
