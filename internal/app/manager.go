package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wabridge/internal/engine"
	"wabridge/internal/infra/integrations/chatwoot"
	"wabridge/internal/infra/integrations/webhook"
	"wabridge/internal/ports"
	"wabridge/platform/config"
	"wabridge/platform/logger"
)

// ErrInstanceExists is returned when initializing a key that is already
// active in the registry.
var ErrInstanceExists = errors.New("instance already exists")

// InitOptions carries the per-account overrides accepted at init time.
// Zero values fall back to the process-wide defaults.
type InitOptions struct {
	Key        string
	WebhookURL string
	Helpdesk   *ports.HelpdeskConfig
}

// Manager orchestrates account instances: it assembles the delivery
// configuration and sinks for each key, starts the engine instance and
// tracks it in the registry.
type Manager struct {
	cfg      *config.Config
	store    ports.InstanceRepository
	factory  ports.ClientFactory
	registry *engine.Registry
	renderQR func(string) string
	logger   *logger.Logger
}

func NewManager(cfg *config.Config, store ports.InstanceRepository, factory ports.ClientFactory, registry *engine.Registry, renderQR func(string) string, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		factory:  factory,
		registry: registry,
		renderQR: renderQR,
		logger:   log.WithModule("app"),
	}
}

// InitInstance creates and starts a fresh account instance. A missing key is
// generated. Re-initializing an active key is rejected; use RestoreInstance
// after a logout or restart instead.
func (m *Manager) InitInstance(ctx context.Context, opts InitOptions) (*engine.Instance, error) {
	key := opts.Key
	if key == "" {
		key = uuid.NewString()
	}

	if _, ok := m.registry.Lookup(key); ok {
		return nil, ErrInstanceExists
	}

	cfg := m.deliveryConfig(opts)
	return m.start(ctx, key, cfg)
}

// RestoreInstance recreates the instance for a persisted key using its
// stored delivery configuration.
func (m *Manager) RestoreInstance(ctx context.Context, key string) (*engine.Instance, error) {
	if _, ok := m.registry.Lookup(key); ok {
		return nil, ErrInstanceExists
	}

	stored, err := m.store.GetConfig(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", key, err)
	}
	return m.start(ctx, key, *stored)
}

// RestoreAll recreates instances for every persisted key that is not already
// active. Individual failures are logged and skipped.
func (m *Manager) RestoreAll(ctx context.Context) int {
	keys, err := m.store.ListKeys(ctx)
	if err != nil {
		m.logger.WithError(err).Error("failed to list persisted instances")
		return 0
	}

	restored := 0
	for _, key := range keys {
		if _, ok := m.registry.Lookup(key); ok {
			continue
		}
		if _, err := m.RestoreInstance(ctx, key); err != nil {
			m.logger.WithError(err).WarnWithFields("failed to restore instance", map[string]interface{}{
				"instance_key": key,
			})
			continue
		}
		restored++
	}

	m.logger.InfoWithFields("instance restore completed", map[string]interface{}{
		"persisted": len(keys),
		"restored":  restored,
	})
	return restored
}

// Lookup returns the active instance for a key.
func (m *Manager) Lookup(key string) (*engine.Instance, bool) {
	return m.registry.Lookup(key)
}

// Logout signs the account out and leaves the instance registered but
// credential-less. A later delete or restore decides its fate.
func (m *Manager) Logout(ctx context.Context, key string) error {
	inst, ok := m.registry.Lookup(key)
	if !ok {
		return ports.ErrInstanceNotFound
	}
	return inst.Logout(ctx)
}

// DeleteInstance tears the account down and removes its persisted document.
// Logout is best-effort; an unreachable server does not block the delete.
func (m *Manager) DeleteInstance(ctx context.Context, key string) error {
	inst, ok := m.registry.Lookup(key)
	if ok {
		if err := inst.Logout(ctx); err != nil {
			m.logger.WithError(err).WarnWithFields("logout during delete failed", map[string]interface{}{
				"instance_key": key,
			})
		}
		inst.Teardown()
		m.registry.Remove(key)
	}

	if err := m.store.Delete(ctx, key); err != nil && !errors.Is(err, ports.ErrInstanceNotFound) {
		return fmt.Errorf("failed to delete instance document: %w", err)
	}
	return nil
}

// ListActive reports summaries of the registered instances.
func (m *Manager) ListActive() []ports.InstanceSummary {
	return m.registry.ListActive()
}

// ListKeys reports every persisted account key.
func (m *Manager) ListKeys(ctx context.Context) ([]string, error) {
	return m.store.ListKeys(ctx)
}

func (m *Manager) start(ctx context.Context, key string, cfg ports.DeliveryConfig) (*engine.Instance, error) {
	inst := engine.NewInstance(engine.Options{
		Key:          key,
		Config:       cfg,
		Store:        m.store,
		Factory:      m.factory,
		Webhook:      m.webhookSink(cfg),
		Helpdesk:     m.helpdeskSink(cfg),
		Reconnect:    m.reconnectPolicy(),
		MaxQRRetries: m.cfg.Instance.MaxQRRetries,
		RecentBuffer: m.cfg.Instance.RecentBuffer,
		RenderQR:     m.renderQR,
		Logger:       m.logger,
	})

	if err := inst.Start(ctx); err != nil {
		inst.Teardown()
		return nil, fmt.Errorf("failed to start instance %s: %w", key, err)
	}

	m.registry.Register(inst)
	m.logger.InfoWithFields("instance initialized", map[string]interface{}{
		"instance_key":  key,
		"allow_webhook": cfg.AllowWebhook,
		"helpdesk":      cfg.Helpdesk.Enabled,
	})
	return inst, nil
}

// deliveryConfig merges init-time overrides over the process-wide defaults.
func (m *Manager) deliveryConfig(opts InitOptions) ports.DeliveryConfig {
	cfg := ports.DeliveryConfig{
		AllowWebhook:  m.cfg.Webhook.Enabled,
		CustomWebhook: m.cfg.Webhook.URL,
		Helpdesk: ports.HelpdeskConfig{
			Enabled:   m.cfg.Chatwoot.Enabled,
			BaseURL:   m.cfg.Chatwoot.BaseURL,
			Token:     m.cfg.Chatwoot.Token,
			InboxID:   m.cfg.Chatwoot.InboxID,
			AccountID: m.cfg.Chatwoot.AccountID,
		},
	}

	if opts.WebhookURL != "" {
		cfg.AllowWebhook = true
		cfg.CustomWebhook = opts.WebhookURL
	}
	if opts.Helpdesk != nil {
		cfg.Helpdesk = *opts.Helpdesk
	}
	return cfg
}

func (m *Manager) webhookSink(cfg ports.DeliveryConfig) ports.WebhookSender {
	if !cfg.AllowWebhook || cfg.CustomWebhook == "" {
		return nil
	}
	return webhook.NewSender(cfg.CustomWebhook, m.logger)
}

func (m *Manager) helpdeskSink(cfg ports.DeliveryConfig) ports.HelpdeskRelay {
	if !cfg.Helpdesk.Enabled || cfg.Helpdesk.BaseURL == "" {
		return nil
	}
	return chatwoot.NewRelay(cfg.Helpdesk, m.logger)
}

func (m *Manager) reconnectPolicy() engine.ReconnectPolicy {
	base := time.Duration(m.cfg.Instance.ReconnectBase) * time.Second
	cap := time.Duration(m.cfg.Instance.ReconnectCap) * time.Second
	return engine.NewExponentialBackoff(base, cap)
}
