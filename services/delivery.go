package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

var (
	ErrNoAdminRecipients = errors.New("no admin phone numbers configured")
	ErrSMSNotConfigured  = errors.New("sms channel not configured")
	ErrNoLiveConnection  = errors.New("no live websocket connection")
)

// ChatSender delivers a chat payload to one recipient.
type ChatSender interface {
	SendPayload(ctx context.Context, to string, payload models.Payload) error
}

// SMSSender delivers a plain text SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// DeliveryRouter picks the transport for each dispatch job. API turns are
// answered inline in the HTTP response, so their reply jobs complete
// without I/O.
type DeliveryRouter struct {
	whatsapp     ChatSender
	web          ChatSender
	sms          SMSSender
	adminNumbers []string
}

// NewDeliveryRouter wires the senders. sms may be nil when no SMS provider
// is configured.
func NewDeliveryRouter(whatsapp, web ChatSender, sms SMSSender, adminNumbers []string) *DeliveryRouter {
	return &DeliveryRouter{
		whatsapp:     whatsapp,
		web:          web,
		sms:          sms,
		adminNumbers: adminNumbers,
	}
}

func (r *DeliveryRouter) Deliver(ctx context.Context, job *models.DispatchJob) error {
	switch job.Channel {
	case models.ChannelUserReply:
		switch job.Transport {
		case models.TransportAPI:
			return nil
		case models.TransportWeb:
			return r.web.SendPayload(ctx, job.Recipient, job.Payload)
		default:
			return r.whatsapp.SendPayload(ctx, job.Recipient, job.Payload)
		}
	case models.ChannelSMS:
		if r.sms == nil {
			return Permanent(ErrSMSNotConfigured)
		}
		return r.sms.SendSMS(ctx, job.Recipient, job.Payload.Text)
	case models.ChannelAdminAlert:
		if job.Recipient != models.AdminGroupRecipient {
			return r.whatsapp.SendPayload(ctx, job.Recipient, job.Payload)
		}
		return r.deliverToAdmins(ctx, job)
	default:
		return Permanent(fmt.Errorf("unknown channel %q", job.Channel))
	}
}

// deliverToAdmins sends to every admin number not yet reached by an earlier
// attempt. Members that fail permanently are skipped so the rest of the
// group still gets the alert; the job only fails permanently when nobody
// could be reached.
func (r *DeliveryRouter) deliverToAdmins(ctx context.Context, job *models.DispatchJob) error {
	if len(r.adminNumbers) == 0 {
		return Permanent(ErrNoAdminRecipients)
	}
	var (
		transient error
		permanent int
	)
	for _, number := range r.adminNumbers {
		if job.WasDeliveredTo(number) {
			continue
		}
		err := r.whatsapp.SendPayload(ctx, number, job.Payload)
		switch {
		case err == nil:
			job.DeliveredTo = append(job.DeliveredTo, number)
		case IsPermanent(err):
			permanent++
		default:
			transient = err
		}
	}
	if transient != nil {
		return fmt.Errorf("admin group delivery: %w", transient)
	}
	if len(job.DeliveredTo) == 0 && permanent > 0 {
		return Permanent(fmt.Errorf("admin group delivery failed for all %d members", permanent))
	}
	return nil
}
