package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
)

// smsAPI is the part of the Twilio REST client the service uses.
type smsAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSService sends critical-urgency notices over Twilio SMS.
type SMSService struct {
	api  smsAPI
	from string
	log  zerolog.Logger
}

// NewSMSService returns nil when the SMS channel is not configured.
func NewSMSService(cfg config.SMSConfig) *SMSService {
	if !cfg.Configured() {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newSMSService(client.Api, cfg.FromNumber)
}

func newSMSService(api smsAPI, from string) *SMSService {
	return &SMSService{api: api, from: from, log: logger.Component("sms")}
}

// SendSMS honours ctx even though the Twilio client is not context-aware:
// an abandoned request finishes in the background and its result is dropped.
func (s *SMSService) SendSMS(ctx context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	done := make(chan error, 1)
	go func() {
		_, err := s.api.CreateMessage(params)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		return s.classify(err)
	}
}

func (s *SMSService) classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		s.log.Warn().Int("status", restErr.Status).Int("code", restErr.Code).Msg("Twilio API error")
		wrapped := fmt.Errorf("twilio error %d (code %d): %s", restErr.Status, restErr.Code, logger.RedactDigits(restErr.Message))
		if restErr.Status >= 400 && restErr.Status < 500 && restErr.Status != http.StatusTooManyRequests {
			return Permanent(wrapped)
		}
		return wrapped
	}
	return fmt.Errorf("send sms: %w", err)
}
