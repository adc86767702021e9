package ports

import (
	"context"
	"errors"
)

// ErrInstanceNotFound is returned when no document exists for an account key.
var ErrInstanceNotFound = errors.New("instance not found")

// InstanceRepository is typed access to the one persisted document per
// account: the delivery config snapshot and the chat mirror. The mirror is
// always replaced as a whole, never patched field by field.
type InstanceRepository interface {
	// SaveConfig upserts the delivery config for a key, creating the
	// document if absent and preserving the stored chat mirror otherwise.
	SaveConfig(ctx context.Context, key string, cfg DeliveryConfig) error

	GetConfig(ctx context.Context, key string) (*DeliveryConfig, error)

	GetChats(ctx context.Context, key string) ([]Chat, error)

	// ReplaceChats overwrites the whole chat mirror of a key.
	ReplaceChats(ctx context.Context, key string, chats []Chat) error

	Delete(ctx context.Context, key string) error

	ListKeys(ctx context.Context) ([]string, error)
}

// WebhookSender posts event envelopes to the account's configured webhook.
// Delivery is best-effort: failures are logged and dropped.
type WebhookSender interface {
	Send(ctx context.Context, eventType string, body interface{})
}

// HelpdeskRelay surfaces inbound direct messages in the helpdesk system.
type HelpdeskRelay interface {
	RelayMessage(ctx context.Context, msg Message) error
}
