package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAlert = errors.New("invalid alert request")

type AlertType string

const (
	AlertBroadcast AlertType = "broadcast"
	AlertEmergency AlertType = "emergency"
	AlertHealthTip AlertType = "health_tip"
)

type AlertPriority string

const (
	PriorityNormal   AlertPriority = "normal"
	PriorityHigh     AlertPriority = "high"
	PriorityCritical AlertPriority = "critical"
)

// AlertRequest is an operator-issued notification that bypasses
// classification.
type AlertRequest struct {
	Message      string        `json:"message" binding:"required"`
	AlertType    AlertType     `json:"alert_type"`
	Priority     AlertPriority `json:"priority"`
	Recipients   []string      `json:"recipients,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	AffectedArea string        `json:"affected_area,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Category     string        `json:"category,omitempty"`
}

// Normalize fills defaults and validates enumerations.
func (r *AlertRequest) Normalize() error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidAlert)
	}
	if r.AlertType == "" {
		r.AlertType = AlertBroadcast
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	switch r.AlertType {
	case AlertBroadcast, AlertEmergency, AlertHealthTip:
	default:
		return fmt.Errorf("%w: unknown alert_type %q", ErrInvalidAlert, r.AlertType)
	}
	switch r.Priority {
	case PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidAlert, r.Priority)
	}
	return nil
}

// Urgency maps the alert onto a tier; operator alerts are never below high.
func (r AlertRequest) Urgency() UrgencyTier {
	if r.AlertType == AlertEmergency || r.Priority == PriorityCritical {
		return UrgencyCritical
	}
	return UrgencyHigh
}

// AlertResult summarizes the jobs produced for an operator alert.
type AlertResult struct {
	RequestID  string         `json:"request_id"`
	Recipients int            `json:"recipients"`
	Jobs       []*DispatchJob `json:"jobs"`
}

// TipDraftRequest asks the LLM for a health tip an operator can review and
// then send with a health_tip alert.
type TipDraftRequest struct {
	Topic    string   `json:"topic" binding:"required"`
	Language Language `json:"language,omitempty"`
	Audience string   `json:"audience,omitempty"`
}

// TipDraft is an unsent, operator-reviewed health tip.
type TipDraft struct {
	Topic    string   `json:"topic"`
	Language Language `json:"language"`
	Text     string   `json:"text"`
	Model    string   `json:"model"`
}
