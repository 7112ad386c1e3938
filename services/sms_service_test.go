package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
)

type fakeTwilio struct {
	params *twilioApi.CreateMessageParams
	err    error
	delay  time.Duration
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	time.Sleep(f.delay)
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestSendSMS(t *testing.T) {
	api := &fakeTwilio{}
	s := newSMSService(api, "+15005550006")

	if err := s.SendSMS(context.Background(), "+919876543210", "call 112"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if *api.params.To != "+919876543210" || *api.params.From != "+15005550006" || *api.params.Body != "call 112" {
		t.Errorf("params = to %s from %s body %s", *api.params.To, *api.params.From, *api.params.Body)
	}
}

func TestSendSMSErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"invalid number", &twilioclient.TwilioRestError{Status: 400, Code: 21211, Message: "invalid To"}, true},
		{"rate limited", &twilioclient.TwilioRestError{Status: 429, Code: 20429, Message: "too many requests"}, false},
		{"server error", &twilioclient.TwilioRestError{Status: 503, Code: 20500, Message: "unavailable"}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSMSService(&fakeTwilio{err: tt.err}, "+1")
			err := s.SendSMS(context.Background(), "+2", "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", IsPermanent(err), tt.permanent, err)
			}
		})
	}
}

func TestSendSMSErrorOmitsRecipientNumber(t *testing.T) {
	api := &fakeTwilio{err: &twilioclient.TwilioRestError{
		Status:  400,
		Code:    21211,
		Message: "The 'To' number +919876543210 is not a valid phone number.",
	}}
	s := newSMSService(api, "+15005550006")

	err := s.SendSMS(context.Background(), "+919876543210", "call 112")
	if !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if strings.Contains(err.Error(), "9876543210") {
		t.Errorf("error leaks the recipient: %v", err)
	}
	if !strings.Contains(err.Error(), "code 21211") {
		t.Errorf("error lost the provider code: %v", err)
	}
}

func TestSendSMSHonoursContext(t *testing.T) {
	s := newSMSService(&fakeTwilio{delay: time.Second}, "+1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := s.SendSMS(ctx, "+2", "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestNewSMSServiceRequiresConfig(t *testing.T) {
	if s := NewSMSService(config.SMSConfig{AccountSID: "AC1"}); s != nil {
		t.Error("partial config should disable sms")
	}
	if s := NewSMSService(config.SMSConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+1"}); s == nil {
		t.Error("full config should enable sms")
	}
}
