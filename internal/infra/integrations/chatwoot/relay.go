package chatwoot

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// Relay surfaces inbound direct messages as incoming Chatwoot messages. For
// each message it resolves the sender to a contact, reuses the newest
// unresolved conversation or opens a fresh one, and posts the text.
type Relay struct {
	client  *Client
	inboxID int
	logger  *logger.Logger
}

func NewRelay(cfg ports.HelpdeskConfig, log *logger.Logger) *Relay {
	return &Relay{
		client:  NewClient(cfg.BaseURL, cfg.Token, cfg.AccountID, log),
		inboxID: cfg.InboxID,
		logger:  log.WithModule("chatwoot"),
	}
}

// NewRelayWithClient wires a relay over an existing client.
func NewRelayWithClient(client *Client, inboxID int, log *logger.Logger) *Relay {
	return &Relay{
		client:  client,
		inboxID: inboxID,
		logger:  log.WithModule("chatwoot"),
	}
}

// RelayMessage implements ports.HelpdeskRelay. Own and group messages are
// not helpdesk traffic and are dropped silently.
func (r *Relay) RelayMessage(ctx context.Context, msg ports.Message) error {
	if msg.FromMe || msg.IsGroupMessage() {
		return nil
	}

	phone := strings.SplitN(msg.ChatID, "@", 2)[0]

	contact, err := r.resolveContact(ctx, phone, msg)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}

	conversation, err := r.resolveConversation(ctx, contact, phone)
	if err != nil {
		return fmt.Errorf("failed to resolve conversation: %w", err)
	}

	if _, err := r.client.CreateMessage(ctx, conversation.ID, msg.DisplayText(), "incoming"); err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}

	r.logger.DebugWithFields("message relayed to helpdesk", map[string]interface{}{
		"conversation_id": conversation.ID,
		"contact_id":      contact.ID,
	})
	return nil
}

// resolveContact finds the contact for a phone number, creating it on first
// contact. The search uses the bare number; creation stores it E.164 style.
func (r *Relay) resolveContact(ctx context.Context, phone string, msg ports.Message) (*Contact, error) {
	contact, err := r.client.SearchContact(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact != nil {
		return contact, nil
	}
	return r.client.CreateContact(ctx, r.inboxID, contactName(msg, phone), "+"+phone)
}

// resolveConversation reuses the contact's newest conversation unless it was
// already resolved by an agent, in which case a fresh one is opened.
func (r *Relay) resolveConversation(ctx context.Context, contact *Contact, phone string) (*Conversation, error) {
	conversations, err := r.client.ListContactConversations(ctx, contact.ID)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		conv := &conversations[i]
		if conv.Meta.Sender.ID == contact.ID && conv.Status != "resolved" {
			return conv, nil
		}
	}
	return r.client.CreateConversation(ctx, r.inboxID, contact.ID, "+"+phone)
}

// contactName picks the display name for a fresh contact: verified business
// name first, then the push name, then the title-cased formatted name, and
// finally the bare number.
func contactName(msg ports.Message, phone string) string {
	if msg.VerifiedName != "" {
		return msg.VerifiedName
	}
	if msg.PushName != "" {
		return msg.PushName
	}
	if msg.FormattedName != "" {
		return cases.Title(language.Und).String(msg.FormattedName)
	}
	return phone
}
