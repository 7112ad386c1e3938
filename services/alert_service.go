package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/utils"
)

// TableSource exposes the active knowledge tables.
type TableSource interface {
	Tables() *config.Tables
}

// AlertService fans operator alerts out to WhatsApp recipients. Alerts skip
// classification entirely and go straight to dispatch.
type AlertService struct {
	dispatch        *DispatchCoordinator
	tables          TableSource
	identity        *utils.Identity
	defaults        []string
	emergencyNumber string
	log             zerolog.Logger
}

func NewAlertService(dispatch *DispatchCoordinator, tables TableSource, cfg *config.Config) *AlertService {
	return &AlertService{
		dispatch:        dispatch,
		tables:          tables,
		identity:        utils.NewIdentity(cfg.Triage.IdentitySalt),
		defaults:        cfg.Admin.BroadcastRecipients,
		emergencyNumber: cfg.Triage.EmergencyNumber,
		log:             logger.Component("alerts"),
	}
}

func alertMessageKey(t models.AlertType) string {
	switch t {
	case models.AlertEmergency:
		return "emergency-broadcast"
	case models.AlertHealthTip:
		return "health-tip"
	default:
		return "broadcast"
	}
}

func (s *AlertService) render(req models.AlertRequest, recipients int) (reply, notice string) {
	msgs := s.tables.Tables().Messages

	advice := req.Message
	if req.AffectedArea != "" {
		advice += "\nArea: " + req.AffectedArea
	}
	if req.Instructions != "" {
		advice += "\n" + req.Instructions
	}
	reply = msgs.Text(alertMessageKey(req.AlertType), models.LangEnglish, map[string]string{
		"advice":           advice,
		"emergency_number": s.emergencyNumber,
	})
	if reply == "" {
		reply = advice
	}
	notice = msgs.Text("admin-operator-alert", models.LangEnglish, map[string]string{
		"alert_type": string(req.AlertType),
		"priority":   string(req.Priority),
		"recipients": strconv.Itoa(recipients),
		"request_id": req.RequestID,
		"advice":     req.Message,
	})
	return reply, notice
}

// recipients resolves the audience, collapsing addresses that belong to the
// same user.
func (s *AlertService) recipients(req models.AlertRequest) []string {
	list := req.Recipients
	if len(list) == 0 {
		list = s.defaults
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, r := range list {
		r = strings.TrimSpace(r)
		if utils.CleanPhoneNumber(r) == "" {
			continue
		}
		key := s.identity.UserKey(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// Send dispatches req to every recipient. The request id scopes every job,
// so retrying a request with the same id never sends twice.
func (s *AlertService) Send(ctx context.Context, req models.AlertRequest) (*models.AlertResult, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	recipients := s.recipients(req)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", models.ErrInvalidAlert)
	}

	reply, notice := s.render(req, len(recipients))
	result := &models.AlertResult{RequestID: req.RequestID, Recipients: len(recipients), Jobs: []*models.DispatchJob{}}
	for _, to := range recipients {
		dec := models.Decision{
			TurnID:       req.RequestID,
			UserKey:      s.identity.UserKey(to),
			Recipient:    to,
			SMSRecipient: "+" + utils.CleanPhoneNumber(to),
			Transport:    models.TransportWhatsApp,
			Language:     models.LangEnglish,
			Intent:       models.IntentUnknown,
			Source:       models.SourceAdmin,
			Urgency:      req.Urgency(),
			Emergency:    req.AlertType == models.AlertEmergency,
			Reply:        models.Payload{Text: reply},
			Alert:        models.Payload{Text: notice},
			SMS:          models.Payload{Text: reply},
		}
		jobs, err := s.dispatch.Dispatch(ctx, dec)
		result.Jobs = append(result.Jobs, jobs...)
		if err != nil {
			return result, fmt.Errorf("dispatch alert to %s: %w", logger.MaskPhone(to), err)
		}
	}

	s.log.Info().
		Str("request_id", req.RequestID).
		Str("alert_type", string(req.AlertType)).
		Str("priority", string(req.Priority)).
		Int("recipients", len(recipients)).
		Int("jobs", len(result.Jobs)).
		Msg("operator alert dispatched")
	return result, nil
}
