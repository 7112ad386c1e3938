package models

import (
	"time"
)

// InboundMessage is what a transport adapter hands to the orchestrator.
// From is the raw sender address; it is hashed before it reaches the session
// store and never logged.
type InboundMessage struct {
	From              string
	Text              string
	ProviderMessageID string
	ReceivedAt        time.Time
	Transport         MessageTransport
	// ReplyID is the id of a tapped button or list row, if any.
	ReplyID string
}

// ChatRequest is the body of the synchronous chat API.
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	MessageID string `json:"message_id,omitempty"`
	ReplyID   string `json:"reply_id,omitempty"`
}

// ChatResponse is returned by the chat API and written to websocket clients.
type ChatResponse struct {
	Response    string        `json:"response"`
	Intent      MessageIntent `json:"intent"`
	Language    Language      `json:"language"`
	Urgency     UrgencyTier   `json:"urgency"`
	State       FlowState     `json:"state"`
	Options     []MenuOption  `json:"options,omitempty"`
	Emergency   bool          `json:"emergency"`
	Jobs        int           `json:"jobs"`
	TurnID      string        `json:"turn_id"`
	RuleIDs     []string      `json:"rule_ids,omitempty"`
	Recommended string        `json:"recommendation_key,omitempty"`
}

// InteractiveMessage for WhatsApp interactive messages
type InteractiveMessage struct {
	Type   string             `json:"type"` // "list" or "button"
	Header *MessageHeader     `json:"header,omitempty"`
	Body   *InteractiveBody   `json:"body"`
	Footer *InteractiveFooter `json:"footer,omitempty"`
	Action *InteractiveAction `json:"action"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveFooter struct {
	Text string `json:"text"`
}

type MessageHeader struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

type InteractiveAction struct {
	Buttons  []InteractiveButton `json:"buttons,omitempty"`
	Button   string              `json:"button,omitempty"` // For list messages
	Sections []Section           `json:"sections,omitempty"`
}

type InteractiveButton struct {
	Type  string       `json:"type"` // "reply"
	Reply *ButtonReply `json:"reply"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Section struct {
	Title string     `json:"title,omitempty"`
	Rows  []ListItem `json:"rows"`
}

type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// WhatsApp Webhook Models
type WhatsAppWebhookData struct {
	Object string          `json:"object"`
	Entry  []WhatsAppEntry `json:"entry"`
}

type WhatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []WhatsAppChange `json:"changes"`
}

type WhatsAppChange struct {
	Field string        `json:"field"`
	Value WhatsAppValue `json:"value"`
}

type WhatsAppValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         WhatsAppMetadata  `json:"metadata"`
	Messages         []WhatsAppMessage `json:"messages,omitempty"`
	Statuses         []WhatsAppStatus  `json:"statuses,omitempty"`
	Contacts         []WhatsAppContact `json:"contacts,omitempty"`
}

type WhatsAppMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WhatsAppMessage struct {
	From        string                    `json:"from"`
	ID          string                    `json:"id"`
	Timestamp   string                    `json:"timestamp"`
	Type        string                    `json:"type"`
	Text        *WhatsAppText             `json:"text,omitempty"`
	Interactive *WhatsAppInteractiveReply `json:"interactive,omitempty"`
	Button      *WhatsAppQuickReply       `json:"button,omitempty"`
}

type WhatsAppText struct {
	Body string `json:"body"`
}

type WhatsAppInteractiveReply struct {
	Type        string               `json:"type"`
	ListReply   *WhatsAppListReply   `json:"list_reply,omitempty"`
	ButtonReply *WhatsAppButtonReply `json:"button_reply,omitempty"`
}

type WhatsAppListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type WhatsAppButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// WhatsAppQuickReply is the payload of a template quick-reply button.
type WhatsAppQuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type WhatsAppContact struct {
	Profile WhatsAppProfile `json:"profile"`
	WaID    string          `json:"wa_id"`
}

type WhatsAppProfile struct {
	Name string `json:"name"`
}

type WhatsAppStatus struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Errors      []Error `json:"errors,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// WhatsApp Send Message Models
type WhatsAppSendMessage struct {
	MessagingProduct string              `json:"messaging_product"`
	RecipientType    string              `json:"recipient_type"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Text             *WhatsAppText       `json:"text,omitempty"`
	Interactive      *InteractiveMessage `json:"interactive,omitempty"`
}

// Service Status Model
type WhatsAppServiceStatus struct {
	Enabled             bool      `json:"enabled"`
	LastMessageSent     time.Time `json:"last_message_sent"`
	MessageCountToday   int       `json:"message_count_today"`
	FailedCountToday    int       `json:"failed_count_today"`
	LastInboundReceived time.Time `json:"last_inbound_received"`
}

// Helper function to convert a menu option to a WhatsApp reply button
func (o MenuOption) ToWhatsAppButton() InteractiveButton {
	return InteractiveButton{
		Type: "reply",
		Reply: &ButtonReply{
			ID:    o.ID,
			Title: o.Title,
		},
	}
}

// Helper function to convert a menu option to a WhatsApp list item
func (o MenuOption) ToWhatsAppListItem() ListItem {
	return ListItem{
		ID:          o.ID,
		Title:       o.Title,
		Description: o.Description,
	}
}

// NeedsInteractiveFormat reports whether the payload carries selectable options.
func (p Payload) NeedsInteractiveFormat() bool {
	return len(p.Options) > 0
}
