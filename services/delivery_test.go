package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func TestDeliverRoutesByChannelAndTransport(t *testing.T) {
	whatsapp, web, sms := newFakeSender(), newFakeSender(), newFakeSender()
	r := NewDeliveryRouter(whatsapp, web, sms, []string{"a1"})
	ctx := context.Background()

	jobs := []*models.DispatchJob{
		{Channel: models.ChannelUserReply, Transport: models.TransportWhatsApp, Recipient: "u1"},
		{Channel: models.ChannelUserReply, Transport: models.TransportWeb, Recipient: "w1"},
		{Channel: models.ChannelUserReply, Transport: models.TransportAPI, Recipient: "api"},
		{Channel: models.ChannelSMS, Recipient: "+1555"},
		{Channel: models.ChannelAdminAlert, Recipient: models.AdminGroupRecipient},
	}
	for _, j := range jobs {
		if err := r.Deliver(ctx, j); err != nil {
			t.Fatalf("Deliver(%s/%s): %v", j.Channel, j.Transport, err)
		}
	}

	if whatsapp.Attempts("u1") != 1 || whatsapp.Attempts("a1") != 1 {
		t.Errorf("whatsapp sends = %+v", whatsapp.Sent())
	}
	if web.Attempts("w1") != 1 {
		t.Errorf("web sends = %+v", web.Sent())
	}
	if sms.Attempts("+1555") != 1 {
		t.Errorf("sms sends = %+v", sms.Sent())
	}
	if whatsapp.Attempts("api") != 0 || web.Attempts("api") != 0 {
		t.Error("api replies are answered inline")
	}
}

func TestDeliverWithoutSMSProviderIsPermanent(t *testing.T) {
	r := NewDeliveryRouter(newFakeSender(), newFakeSender(), nil, nil)
	err := r.Deliver(context.Background(), &models.DispatchJob{Channel: models.ChannelSMS, Recipient: "+1"})
	if !IsPermanent(err) || !errors.Is(err, ErrSMSNotConfigured) {
		t.Errorf("err = %v, want permanent ErrSMSNotConfigured", err)
	}
}

func TestAdminGroupRetriesOnlyMissedMembers(t *testing.T) {
	sender := newFakeSender()
	sender.fail = func(to string, attempt int) error {
		if to == "a2" && attempt == 1 {
			return errFlaky
		}
		return nil
	}
	jobs := database.NewMemoryJobStore()
	d := NewDispatchCoordinator(jobs, NewDeliveryRouter(sender, sender, nil, []string{"a1", "a2"}), testDispatchConfig(), false)

	created, _ := d.Dispatch(context.Background(), testDecision("t1", models.UrgencyHigh))
	d.Wait()

	if sender.Attempts("a1") != 1 {
		t.Errorf("a1 attempts = %d, want 1", sender.Attempts("a1"))
	}
	if sender.Attempts("a2") != 2 {
		t.Errorf("a2 attempts = %d, want 2", sender.Attempts("a2"))
	}
	for _, c := range created {
		job, _ := jobs.Get(context.Background(), c.IdempotenceKey)
		if job.Status != models.JobSent {
			t.Errorf("%s status = %s", job.Channel, job.Status)
		}
	}
}

func TestAdminGroupSkipsPermanentlyFailingMember(t *testing.T) {
	sender := newFakeSender()
	sender.fail = func(to string, _ int) error {
		if to == "bad" {
			return Permanent(errors.New("not a whatsapp number"))
		}
		return nil
	}
	r := NewDeliveryRouter(sender, sender, nil, []string{"bad", "good"})
	job := &models.DispatchJob{Channel: models.ChannelAdminAlert, Recipient: models.AdminGroupRecipient}

	if err := r.Deliver(context.Background(), job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(job.DeliveredTo) != 1 || job.DeliveredTo[0] != "good" {
		t.Errorf("delivered to %v", job.DeliveredTo)
	}

	all := NewDeliveryRouter(sender, sender, nil, []string{"bad"})
	err := all.Deliver(context.Background(), &models.DispatchJob{Channel: models.ChannelAdminAlert, Recipient: models.AdminGroupRecipient})
	if !IsPermanent(err) {
		t.Errorf("err = %v, want permanent when nobody is reachable", err)
	}
}

func TestNoAdminNumbersIsPermanent(t *testing.T) {
	r := NewDeliveryRouter(newFakeSender(), newFakeSender(), nil, nil)
	err := r.Deliver(context.Background(), &models.DispatchJob{Channel: models.ChannelAdminAlert, Recipient: models.AdminGroupRecipient})
	if !errors.Is(err, ErrNoAdminRecipients) || !IsPermanent(err) {
		t.Errorf("err = %v", err)
	}
}
