package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"wabridge/internal/ports"
)

type instanceFixture struct {
	inst     *Instance
	factory  *fakeFactory
	store    *memStore
	webhook  *fakeWebhook
	helpdesk *fakeHelpdesk
}

func newInstanceFixture(t *testing.T, cfg ports.DeliveryConfig, maxQR int) *instanceFixture {
	t.Helper()
	f := &instanceFixture{
		factory:  &fakeFactory{},
		store:    newMemStore(),
		webhook:  &fakeWebhook{},
		helpdesk: &fakeHelpdesk{},
	}
	f.inst = NewInstance(Options{
		Key:          "acc1",
		Config:       cfg,
		Store:        f.store,
		Factory:      f.factory,
		Webhook:      f.webhook,
		Helpdesk:     f.helpdesk,
		Reconnect:    ImmediateReconnect{},
		MaxQRRetries: maxQR,
		Logger:       testLogger(),
	})
	if err := f.inst.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(f.inst.Teardown)
	return f
}

func TestQRBudgetClosesTransport(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 2)
	client := f.factory.client(0)

	client.push(ports.ConnectionUpdate{QRCode: "payload-1"})
	waitFor(t, "first challenge stored", func() bool {
		return f.inst.QRCode() == "payload-1"
	})
	if client.wasClosed() {
		t.Fatal("transport closed before the budget was exhausted")
	}

	client.push(ports.ConnectionUpdate{QRCode: "payload-2"})
	waitFor(t, "expiry sentinel", func() bool {
		return f.inst.QRCode() == QRCodeExpired
	})
	waitFor(t, "transport close", client.wasClosed)

	// No reconnect follows a budget exhaustion close.
	time.Sleep(50 * time.Millisecond)
	if f.factory.count() != 1 {
		t.Errorf("expected no reconnect after budget exhaustion, got %d clients", f.factory.count())
	}
}

func TestQRRenderedBeforeServing(t *testing.T) {
	factory := &fakeFactory{}
	inst := NewInstance(Options{
		Key:          "acc1",
		Store:        newMemStore(),
		Factory:      factory,
		Reconnect:    ImmediateReconnect{},
		MaxQRRetries: 5,
		RenderQR:     func(payload string) string { return "img:" + payload },
		Logger:       testLogger(),
	})
	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(inst.Teardown)

	factory.client(0).push(ports.ConnectionUpdate{QRCode: "raw"})
	waitFor(t, "rendered challenge", func() bool {
		return inst.QRCode() == "img:raw"
	})
}

func TestOpenTransitionPersistsConfigAndNotifies(t *testing.T) {
	cfg := ports.DeliveryConfig{AllowWebhook: true, CustomWebhook: "https://hooks.test/wa"}
	f := newInstanceFixture(t, cfg, 5)

	f.factory.client(0).push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "online state", f.inst.Online)

	stored, err := f.store.GetConfig(context.Background(), "acc1")
	if err != nil {
		t.Fatalf("config not persisted on open: %v", err)
	}
	if stored.CustomWebhook != cfg.CustomWebhook {
		t.Errorf("persisted config mismatch: %+v", stored)
	}
	waitFor(t, "connection webhook", func() bool {
		return f.webhook.countType("connection") == 1
	})
}

func TestNonLogoutCloseReconnects(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	first := f.factory.client(0)

	first.push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "online", f.inst.Online)

	first.push(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonConnectionLost})
	waitFor(t, "replacement client", func() bool { return f.factory.count() == 2 })
	waitFor(t, "old transport closed", first.wasClosed)

	second := f.factory.client(1)
	waitFor(t, "replacement opened", second.IsConnected)
	if f.inst.Online() {
		t.Error("instance must be offline until the new connection opens")
	}
}

func TestLoggedOutClosePurgesAndStaysDown(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)

	client.push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "online", f.inst.Online)

	client.push(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonLoggedOut})
	waitFor(t, "credential purge", client.wasPurged)

	time.Sleep(50 * time.Millisecond)
	if f.factory.count() != 1 {
		t.Errorf("logged-out close must not reconnect, got %d clients", f.factory.count())
	}
	if f.inst.Online() {
		t.Error("instance must report offline after logout")
	}
}

func TestMessageRelayFiltersAndFansOut(t *testing.T) {
	cfg := ports.DeliveryConfig{
		AllowWebhook: true,
		Helpdesk:     ports.HelpdeskConfig{Enabled: true},
	}
	f := newInstanceFixture(t, cfg, 5)
	client := f.factory.client(0)

	client.push(ports.MessagesUpsert{
		Kind: ports.UpsertNotify,
		Messages: []ports.Message{
			{ID: "SKIP", ChatID: "a@s.whatsapp.net", Type: ports.MessageTypeProtocol},
			{ID: "TEXT", ChatID: "a@s.whatsapp.net", Type: ports.MessageTypeConversation, Conversation: "hi"},
		},
	})

	waitFor(t, "webhook relay", func() bool { return f.webhook.countType("message") == 1 })
	waitFor(t, "helpdesk relay", func() bool { return f.helpdesk.count() == 1 })
	if got := f.webhook.countType("message"); got != 1 {
		t.Errorf("protocol message must be filtered, got %d webhook deliveries", got)
	}
}

func TestHelpdeskDisabledStillDeliversWebhook(t *testing.T) {
	cfg := ports.DeliveryConfig{AllowWebhook: true}
	f := newInstanceFixture(t, cfg, 5)

	f.factory.client(0).push(ports.MessagesUpsert{
		Kind: ports.UpsertNotify,
		Messages: []ports.Message{
			{ID: "TEXT", ChatID: "a@s.whatsapp.net", Type: ports.MessageTypeConversation, Conversation: "hi"},
		},
	})

	waitFor(t, "webhook relay", func() bool { return f.webhook.countType("message") == 1 })
	time.Sleep(50 * time.Millisecond)
	if f.helpdesk.count() != 0 {
		t.Errorf("disabled helpdesk must receive nothing, got %d", f.helpdesk.count())
	}
}

func TestWebhookDisabledSuppressesDelivery(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)

	client.push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "online", f.inst.Online)

	time.Sleep(50 * time.Millisecond)
	if len(f.webhook.calls) != 0 {
		t.Errorf("webhook disabled, expected no deliveries, got %d", len(f.webhook.calls))
	}
}

func TestPrependBatchIsBufferedNotRelayed(t *testing.T) {
	cfg := ports.DeliveryConfig{AllowWebhook: true, Helpdesk: ports.HelpdeskConfig{Enabled: true}}
	f := newInstanceFixture(t, cfg, 5)
	client := f.factory.client(0)

	client.push(ports.ChatsSet{Chats: []ports.Chat{{ID: "a@s.whatsapp.net"}}})
	client.push(ports.MessagesUpsert{
		Kind: ports.UpsertPrepend,
		Messages: []ports.Message{
			{ID: "OLD", ChatID: "a@s.whatsapp.net", Type: ports.MessageTypeConversation, Conversation: "history"},
		},
	})

	waitFor(t, "history buffered", func() bool {
		chat, ok := f.inst.ChatByID("a@s.whatsapp.net")
		return ok && len(chat.Messages) == 1
	})
	time.Sleep(50 * time.Millisecond)
	if f.webhook.countType("message") != 0 || f.helpdesk.count() != 0 {
		t.Error("history backfill must not reach the relay sinks")
	}
}

func TestVerifyRecipient(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)
	client.mu.Lock()
	client.onNetwork = map[string]bool{"5511999999999@s.whatsapp.net": true}
	client.mu.Unlock()

	ctx := context.Background()

	jid, err := f.inst.VerifyRecipient(ctx, "5511999999999")
	if err != nil {
		t.Fatalf("expected recipient to verify, got %v", err)
	}
	if jid != "5511999999999@s.whatsapp.net" {
		t.Errorf("unexpected normalized id %q", jid)
	}

	if _, err := f.inst.VerifyRecipient(ctx, "5511000000000"); !errors.Is(err, ports.ErrRecipientNotFound) {
		t.Errorf("expected ErrRecipientNotFound, got %v", err)
	}

	before := client.networkCheckCount()
	jid, err = f.inst.VerifyRecipient(ctx, "123-456")
	if err != nil {
		t.Fatalf("group ids must skip the existence check, got %v", err)
	}
	if jid != "123-456@g.us" {
		t.Errorf("unexpected group id %q", jid)
	}
	if client.networkCheckCount() != before {
		t.Error("group verification must not hit the network")
	}
}

func TestSendTextVerifiesBeforeSending(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)
	client.mu.Lock()
	client.onNetwork = map[string]bool{}
	client.mu.Unlock()

	if _, err := f.inst.SendText(context.Background(), "5511999999999", "hi"); !errors.Is(err, ports.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	client.mu.Lock()
	sent := len(client.sentTexts)
	client.mu.Unlock()
	if sent != 0 {
		t.Error("nothing may be sent to an unverified recipient")
	}
}

func TestGroupAdminFailureIsAValue(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)
	client.mu.Lock()
	client.participantErr = errors.New("403: forbidden")
	client.mu.Unlock()

	res := f.inst.AddGroupParticipants(context.Background(), "123-456", []string{"p1"})
	if !res.Error {
		t.Fatal("expected error result for privilege failure")
	}
	if res.Message != "Unable to add participant, you must be an admin in this group" {
		t.Errorf("unexpected failure message %q", res.Message)
	}
}

func TestLeaveUnknownGroupFails(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	if err := f.inst.LeaveGroup(context.Background(), "123-456"); err == nil {
		t.Fatal("leaving a group absent from the mirror must fail")
	}
}

func TestCreateGroupRecordsMirrorEntry(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)

	group, err := f.inst.CreateGroup(context.Background(), "Team", []string{"5511999999999"})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	chat, ok := f.inst.ChatByID(group.ID)
	if !ok {
		t.Fatal("created group missing from mirror")
	}
	if chat.Name != "Team" {
		t.Errorf("unexpected group name %q", chat.Name)
	}
	if len(chat.Participant) != 1 || chat.Participant[0].ID != "5511999999999@s.whatsapp.net" {
		t.Errorf("unexpected membership %+v", chat.Participant)
	}
}

func TestChatsSetTriggersGroupRefresh(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{}, 5)
	client := f.factory.client(0)
	client.mu.Lock()
	client.groups = map[string]ports.GroupInfo{
		"123-456@g.us": {
			ID:           "123-456@g.us",
			Subject:      "Team",
			Participants: []ports.Participant{{ID: "p1@s.whatsapp.net"}},
			SubjectOwner: "owner@s.whatsapp.net",
		},
	}
	client.mu.Unlock()

	client.push(ports.ChatsSet{Chats: []ports.Chat{
		{ID: "123-456@g.us", Name: "Team"},
		{ID: "a@s.whatsapp.net", Name: "Alice"},
	}})

	waitFor(t, "membership refresh", func() bool {
		chat, ok := f.inst.ChatByID("123-456@g.us")
		return ok && len(chat.Participant) == 1 && chat.SubjectOwner == "owner@s.whatsapp.net"
	})
}

func TestSummaryReportsConnectedUser(t *testing.T) {
	f := newInstanceFixture(t, ports.DeliveryConfig{CustomWebhook: "https://hooks.test/wa"}, 5)
	client := f.factory.client(0)
	client.user = &ports.UserInfo{ID: "5511999999999@s.whatsapp.net", PushName: "Me"}

	s := f.inst.Summary()
	if s.PhoneConnected || s.User != nil {
		t.Errorf("offline summary must not carry a user: %+v", s)
	}

	client.push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "online", f.inst.Online)

	s = f.inst.Summary()
	if !s.PhoneConnected || s.User == nil || s.User.PushName != "Me" {
		t.Errorf("unexpected online summary: %+v", s)
	}
	if s.WebhookURL != "https://hooks.test/wa" {
		t.Errorf("unexpected webhook url %q", s.WebhookURL)
	}
}
