package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wabridge/internal/ports"
	"wabridge/platform/database"
	"wabridge/platform/logger"
)

// InstanceRepository persists the per-account document in the "waInstances"
// table: delivery config and chat mirror as JSON columns, plus the device
// id used to rebind a restored account to its transport credentials.
type InstanceRepository struct {
	db     *database.Database
	logger *logger.Logger
}

func NewInstanceRepository(db *database.Database, log *logger.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: log.WithModule("repository"),
	}
}

// SaveConfig upserts the delivery config, leaving chats and device id alone.
func (r *InstanceRepository) SaveConfig(ctx context.Context, key string, cfg ports.DeliveryConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO "waInstances" ("key", "config") VALUES (?, ?)
		ON CONFLICT ("key") DO UPDATE SET
			"config" = excluded."config",
			"updatedAt" = CURRENT_TIMESTAMP`)
	if _, err := r.db.ExecContext(ctx, query, key, string(raw)); err != nil {
		return fmt.Errorf("failed to save config for %s: %w", key, err)
	}
	return nil
}

func (r *InstanceRepository) GetConfig(ctx context.Context, key string) (*ports.DeliveryConfig, error) {
	var raw []byte
	query := r.db.Rebind(`SELECT "config" FROM "waInstances" WHERE "key" = ?`)
	if err := r.db.GetContext(ctx, &raw, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get config for %s: %w", key, err)
	}

	var cfg ports.DeliveryConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for %s: %w", key, err)
	}
	return &cfg, nil
}

func (r *InstanceRepository) GetChats(ctx context.Context, key string) ([]ports.Chat, error) {
	var raw []byte
	query := r.db.Rebind(`SELECT "chats" FROM "waInstances" WHERE "key" = ?`)
	if err := r.db.GetContext(ctx, &raw, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get chats for %s: %w", key, err)
	}

	var chats []ports.Chat
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chats for %s: %w", key, err)
	}
	return chats, nil
}

// ReplaceChats overwrites the stored chat mirror as one document.
func (r *InstanceRepository) ReplaceChats(ctx context.Context, key string, chats []ports.Chat) error {
	if chats == nil {
		chats = []ports.Chat{}
	}
	raw, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("failed to marshal chats: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO "waInstances" ("key", "chats") VALUES (?, ?)
		ON CONFLICT ("key") DO UPDATE SET
			"chats" = excluded."chats",
			"updatedAt" = CURRENT_TIMESTAMP`)
	if _, err := r.db.ExecContext(ctx, query, key, string(raw)); err != nil {
		return fmt.Errorf("failed to replace chats for %s: %w", key, err)
	}
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, key string) error {
	query := r.db.Rebind(`DELETE FROM "waInstances" WHERE "key" = ?`)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", key, err)
	}
	return nil
}

func (r *InstanceRepository) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	query := `SELECT "key" FROM "waInstances" ORDER BY "createdAt"`
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("failed to list instance keys: %w", err)
	}
	return keys, nil
}

// SetDeviceJID records the transport device bound to an account key once the
// first login completes.
func (r *InstanceRepository) SetDeviceJID(ctx context.Context, key, jid string) error {
	query := r.db.Rebind(`
		INSERT INTO "waInstances" ("key", "deviceJid") VALUES (?, ?)
		ON CONFLICT ("key") DO UPDATE SET
			"deviceJid" = excluded."deviceJid",
			"updatedAt" = CURRENT_TIMESTAMP`)
	if _, err := r.db.ExecContext(ctx, query, key, jid); err != nil {
		return fmt.Errorf("failed to set device jid for %s: %w", key, err)
	}
	return nil
}

// GetDeviceJID returns the bound device id, or empty when the account never
// completed a login.
func (r *InstanceRepository) GetDeviceJID(ctx context.Context, key string) (string, error) {
	var jid string
	query := r.db.Rebind(`SELECT "deviceJid" FROM "waInstances" WHERE "key" = ?`)
	if err := r.db.GetContext(ctx, &jid, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ports.ErrInstanceNotFound
		}
		return "", fmt.Errorf("failed to get device jid for %s: %w", key, err)
	}
	return jid, nil
}
