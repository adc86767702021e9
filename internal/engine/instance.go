package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// QRCodeExpired is served in place of a QR image once the login challenge
// budget is exhausted. A fresh connect attempt resets the budget.
const QRCodeExpired = "expired"

// Options wires one account instance. Store, Factory and Logger are
// required; Webhook and Helpdesk may be nil when the account has no sink.
type Options struct {
	Key          string
	Config       ports.DeliveryConfig
	Store        ports.InstanceRepository
	Factory      ports.ClientFactory
	Webhook      ports.WebhookSender
	Helpdesk     ports.HelpdeskRelay
	Reconnect    ReconnectPolicy
	MaxQRRetries int
	RecentBuffer int
	// RenderQR turns the raw challenge payload into the transportable form
	// served to clients. Nil serves the raw payload.
	RenderQR func(payload string) string
	Logger   *logger.Logger
}

// Instance is the lifecycle owner of one account: it holds the current
// transport handle, runs the dispatch loop over the event stream, drives
// reconnects and fans events out to the configured sinks.
type Instance struct {
	key        string
	cfg        ports.DeliveryConfig
	store      ports.InstanceRepository
	factory    ports.ClientFactory
	webhook    ports.WebhookSender
	helpdesk   ports.HelpdeskRelay
	reconnect  ReconnectPolicy
	maxQR      int
	renderQR   func(string) string
	logger     *logger.Logger
	reconciler *Reconciler

	mu            sync.RWMutex
	client        ports.ProtocolClient
	state         ports.ConnectionState
	online        bool
	qrCode        string
	qrRetry       int
	loginDisabled bool
	closing       bool
	attempts      int

	relayWG sync.WaitGroup
}

func NewInstance(opts Options) *Instance {
	if opts.MaxQRRetries <= 0 {
		opts.MaxQRRetries = 5
	}
	if opts.Reconnect == nil {
		opts.Reconnect = NewExponentialBackoff(2*time.Second, time.Minute)
	}
	log := opts.Logger.WithModule("instance").WithSession(opts.Key)
	return &Instance{
		key:        opts.Key,
		cfg:        opts.Config,
		store:      opts.Store,
		factory:    opts.Factory,
		webhook:    opts.Webhook,
		helpdesk:   opts.Helpdesk,
		reconnect:  opts.Reconnect,
		maxQR:      opts.MaxQRRetries,
		renderQR:   opts.RenderQR,
		logger:     log,
		reconciler: NewReconciler(opts.Key, opts.Store, opts.Logger, opts.RecentBuffer),
		state:      ports.StateConnecting,
	}
}

func (i *Instance) Key() string { return i.key }

func (i *Instance) Config() ports.DeliveryConfig {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg
}

// QRCode returns the latest rendered login challenge, the expiry sentinel,
// or empty when no challenge is pending.
func (i *Instance) QRCode() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.qrCode
}

func (i *Instance) ConnectionState() ports.ConnectionState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Instance) Online() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.online
}

// Summary reports the instance for the active listing.
func (i *Instance) Summary() ports.InstanceSummary {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s := ports.InstanceSummary{
		Key:            i.key,
		PhoneConnected: i.online,
		WebhookURL:     i.cfg.CustomWebhook,
	}
	if i.online && i.client != nil {
		s.User = i.client.ConnectedUser()
	}
	return s
}

// Start restores the persisted chat mirror and opens the first connection.
func (i *Instance) Start(ctx context.Context) error {
	if err := i.reconciler.Load(ctx); err != nil {
		i.logger.WithError(err).Error("failed to restore chat mirror")
	}
	return i.connect(ctx)
}

// connect mints a fresh transport handle, wires its dispatch loop and opens
// it. Each reconnect passes through here so stale handles never receive a
// second life.
func (i *Instance) connect(ctx context.Context) error {
	i.mu.Lock()
	if i.closing {
		i.mu.Unlock()
		return nil
	}
	client, err := i.factory.NewClient(i.key)
	if err != nil {
		i.mu.Unlock()
		return fmt.Errorf("failed to create client for %s: %w", i.key, err)
	}
	i.client = client
	i.state = ports.StateConnecting
	i.qrCode = ""
	i.qrRetry = 0
	i.loginDisabled = false
	i.mu.Unlock()

	go i.dispatch(client)

	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("failed to open connection for %s: %w", i.key, err)
	}
	return nil
}

// dispatch is the single per-account event loop. It ends when the transport
// closes its stream.
func (i *Instance) dispatch(client ports.ProtocolClient) {
	for ev := range client.Events() {
		i.handleEvent(context.Background(), client, ev)
	}
	i.logger.Debug("event stream closed")
}

func (i *Instance) handleEvent(ctx context.Context, client ports.ProtocolClient, ev ports.Event) {
	switch ev := ev.(type) {
	case ports.ConnectionUpdate:
		i.handleConnectionUpdate(ctx, client, ev)
	case ports.PresenceUpdate:
		i.emitWebhook(ctx, "presence", ev)
	case ports.ChatsSet:
		i.reconciler.SetChats(ctx, ev.Chats)
		i.refreshGroupParticipants(ctx, client)
	case ports.ChatsUpsert:
		i.reconciler.UpsertChats(ctx, ev.Chats)
	case ports.ChatsUpdate:
		i.reconciler.UpdateChats(ctx, ev.Patches)
	case ports.ChatsDelete:
		i.reconciler.DeleteChats(ctx, ev.IDs)
	case ports.MessagesUpsert:
		i.handleMessages(ctx, ev)
	case ports.GroupsUpsert:
		i.reconciler.ApplyGroupCreate(ctx, ev.Groups)
		i.emitWebhook(ctx, "group_created", ev)
	case ports.GroupsUpdate:
		i.reconciler.ApplyGroupUpdate(ctx, ev.Updates)
		i.emitWebhook(ctx, "group_updated", ev)
	case ports.GroupParticipantsUpdate:
		i.reconciler.ApplyParticipantsUpdate(ctx, ev)
		i.emitWebhook(ctx, "group_participants_updated", ev)
	case ports.CallOffer:
		i.emitWebhook(ctx, "call_offer", ev)
	case ports.CallTerminate:
		i.emitWebhook(ctx, "call_terminate", ev)
	}
}

func (i *Instance) handleConnectionUpdate(ctx context.Context, client ports.ProtocolClient, ev ports.ConnectionUpdate) {
	if ev.QRCode != "" {
		i.handleQRChallenge(client, ev.QRCode)
		return
	}

	switch ev.State {
	case ports.StateOpen:
		i.mu.Lock()
		i.state = ports.StateOpen
		i.online = true
		i.qrCode = ""
		i.qrRetry = 0
		i.attempts = 0
		i.mu.Unlock()

		if err := i.store.SaveConfig(ctx, i.key, i.cfg); err != nil {
			i.logger.WithError(err).Error("failed to persist instance config")
		}
		i.logger.Info("connection open")
		i.emitWebhook(ctx, "connection", map[string]interface{}{"connection": string(ports.StateOpen)})

	case ports.StateClosed:
		i.mu.Lock()
		i.state = ports.StateClosed
		i.online = false
		suppressed := i.closing || i.loginDisabled
		i.mu.Unlock()

		if ev.Reason == ports.ReasonLoggedOut {
			i.logger.Info("device logged out, purging credentials")
			if err := client.PurgeCredentials(ctx); err != nil {
				i.logger.WithError(err).Error("failed to purge credentials")
			}
		} else if !suppressed {
			i.scheduleReconnect(client, ev.Reason)
		}
		i.emitWebhook(ctx, "connection", map[string]interface{}{
			"connection": string(ports.StateClosed),
			"reason":     string(ev.Reason),
		})
	}
}

// handleQRChallenge stores each rendered challenge and counts it against the
// login budget. At the cap the transport is closed, which detaches its
// listeners, and the stored code becomes the expiry sentinel. Further
// challenge events are no-ops.
func (i *Instance) handleQRChallenge(client ports.ProtocolClient, payload string) {
	i.mu.Lock()
	if i.loginDisabled {
		i.mu.Unlock()
		return
	}
	rendered := payload
	if i.renderQR != nil {
		rendered = i.renderQR(payload)
	}
	i.qrCode = rendered
	i.qrRetry++
	exhausted := i.qrRetry >= i.maxQR
	if exhausted {
		i.qrCode = QRCodeExpired
		i.loginDisabled = true
	}
	retry := i.qrRetry
	i.mu.Unlock()

	if exhausted {
		i.logger.InfoWithFields("login challenge budget exhausted, closing transport", map[string]interface{}{
			"qr_retries": retry,
		})
		client.Close()
		return
	}
	i.logger.DebugWithFields("login challenge updated", map[string]interface{}{
		"qr_retry": retry,
	})
}

func (i *Instance) scheduleReconnect(old ports.ProtocolClient, reason ports.DisconnectReason) {
	i.mu.Lock()
	i.attempts++
	attempt := i.attempts
	i.mu.Unlock()

	delay := i.reconnect.NextDelay(attempt)
	i.logger.InfoWithFields("scheduling reconnect", map[string]interface{}{
		"reason":  string(reason),
		"attempt": attempt,
		"delay":   delay.String(),
	})

	time.AfterFunc(delay, func() {
		i.mu.RLock()
		stale := i.client != old
		closing := i.closing
		i.mu.RUnlock()
		if stale || closing {
			return
		}
		old.Close()
		if err := i.connect(context.Background()); err != nil {
			i.logger.WithError(err).Error("reconnect attempt failed")
		}
	})
}

func (i *Instance) handleMessages(ctx context.Context, ev ports.MessagesUpsert) {
	for _, msg := range ev.Messages {
		if msg.Type == ports.MessageTypeProtocol || msg.Type == ports.MessageTypeSenderKeyDistribution {
			continue
		}
		i.reconciler.AppendRecentMessage(msg)
		if ev.Kind != ports.UpsertNotify {
			continue
		}
		m := msg
		i.relayWG.Add(1)
		go func() {
			defer i.relayWG.Done()
			i.relayMessage(context.Background(), m)
		}()
	}
}

// relayMessage fans one inbound message out to the webhook and helpdesk
// sinks. Runs off the dispatch loop so a slow sink delays only itself.
func (i *Instance) relayMessage(ctx context.Context, msg ports.Message) {
	i.emitWebhook(ctx, "message", msg)

	i.mu.RLock()
	helpdeskEnabled := i.cfg.Helpdesk.Enabled && i.helpdesk != nil
	i.mu.RUnlock()
	if !helpdeskEnabled {
		return
	}
	if err := i.helpdesk.RelayMessage(ctx, msg); err != nil {
		i.logger.WithError(err).ErrorWithFields("helpdesk relay failed", map[string]interface{}{
			"message_id": msg.ID,
		})
	}
}

func (i *Instance) emitWebhook(ctx context.Context, eventType string, body interface{}) {
	i.mu.RLock()
	allowed := i.cfg.AllowWebhook && i.webhook != nil
	i.mu.RUnlock()
	if !allowed {
		return
	}
	i.webhook.Send(ctx, eventType, body)
}

func (i *Instance) refreshGroupParticipants(ctx context.Context, client ports.ProtocolClient) {
	groups, err := client.FetchAllParticipatingGroups(ctx)
	if err != nil {
		i.logger.WithError(err).Error("failed to fetch participating groups")
		return
	}
	i.reconciler.RefreshGroups(ctx, groups)
}

func (i *Instance) currentClient() (ports.ProtocolClient, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.client == nil {
		return nil, fmt.Errorf("no client for instance %s", i.key)
	}
	return i.client, nil
}

// VerifyRecipient normalizes an id and checks individual targets against the
// network. Group ids skip the existence check.
func (i *Instance) VerifyRecipient(ctx context.Context, id string) (string, error) {
	jid := NormalizeJID(id)
	if IsGroupJID(jid) {
		return jid, nil
	}
	client, err := i.currentClient()
	if err != nil {
		return "", err
	}
	exists, err := client.IsOnNetwork(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("failed to verify %s: %w", jid, err)
	}
	if !exists {
		return "", ports.ErrRecipientNotFound
	}
	return jid, nil
}

func (i *Instance) SendText(ctx context.Context, to, body string) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendText(ctx, jid, body)
}

func (i *Instance) SendMedia(ctx context.Context, to string, media ports.MediaPayload) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendMedia(ctx, jid, media)
}

func (i *Instance) SendButtons(ctx context.Context, to string, payload ports.ButtonsPayload) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendButtons(ctx, jid, payload)
}

func (i *Instance) SendList(ctx context.Context, to string, payload ports.ListPayload) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendList(ctx, jid, payload)
}

func (i *Instance) SendLocation(ctx context.Context, to string, payload ports.LocationPayload) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendLocation(ctx, jid, payload)
}

func (i *Instance) SendContact(ctx context.Context, to string, card ports.ContactCard) (*ports.SendResult, error) {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	return client.SendContact(ctx, jid, card)
}

func (i *Instance) SendPresence(ctx context.Context, to, state string) error {
	jid, err := i.VerifyRecipient(ctx, to)
	if err != nil {
		return err
	}
	client, err := i.currentClient()
	if err != nil {
		return err
	}
	return client.SendPresence(ctx, jid, state)
}

func (i *Instance) UpdateProfilePicture(ctx context.Context, id string, image []byte) ports.CommandResult {
	jid, err := i.VerifyRecipient(ctx, id)
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	client, err := i.currentClient()
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	if err := client.UpdateProfilePicture(ctx, jid, image); err != nil {
		i.logger.WithError(err).Error("failed to update profile picture")
		return ports.CommandResult{Error: true, Message: "Unable to update profile picture"}
	}
	return ports.CommandResult{Message: "Profile picture updated"}
}

// CreateGroup creates a group with the given members and records it in the
// mirror without waiting for the corresponding protocol event.
func (i *Instance) CreateGroup(ctx context.Context, name string, participants []string) (*ports.GroupInfo, error) {
	client, err := i.currentClient()
	if err != nil {
		return nil, err
	}
	group, err := client.GroupCreate(ctx, name, NormalizeJIDs(participants))
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	i.reconciler.ApplyGroupCreate(ctx, []ports.GroupInfo{*group})
	return group, nil
}

func (i *Instance) AddGroupParticipants(ctx context.Context, id string, participants []string) ports.CommandResult {
	return i.updateParticipants(ctx, id, participants, ports.ParticipantAdd,
		"Unable to add participant, you must be an admin in this group")
}

func (i *Instance) PromoteGroupParticipants(ctx context.Context, id string, participants []string) ports.CommandResult {
	return i.updateParticipants(ctx, id, participants, ports.ParticipantPromote,
		"Unable to promote some participants, check if you are admin in group or participants exists")
}

func (i *Instance) DemoteGroupParticipants(ctx context.Context, id string, participants []string) ports.CommandResult {
	return i.updateParticipants(ctx, id, participants, ports.ParticipantDemote,
		"Unable to demote some participants, check if you are admin in group or participants exists")
}

func (i *Instance) UpdateGroupParticipants(ctx context.Context, id string, participants []string, action ports.ParticipantAction) ports.CommandResult {
	return i.updateParticipants(ctx, id, participants, action,
		fmt.Sprintf("Unable to %s some participants, check if you are admin in group or participants exists", action))
}

func (i *Instance) updateParticipants(ctx context.Context, id string, participants []string, action ports.ParticipantAction, failure string) ports.CommandResult {
	client, err := i.currentClient()
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	jid := NormalizeJID(id)
	if err := client.GroupParticipantsUpdate(ctx, jid, NormalizeJIDs(participants), action); err != nil {
		i.logger.WithError(err).ErrorWithFields("group participants update failed", map[string]interface{}{
			"group_id": jid,
			"action":   string(action),
		})
		return ports.CommandResult{Error: true, Message: failure}
	}
	i.reconciler.ApplyParticipantsUpdate(ctx, ports.GroupParticipantsUpdate{
		GroupID:      jid,
		Action:       action,
		Participants: NormalizeJIDs(participants),
	})
	return ports.CommandResult{Message: "Group participants updated"}
}

func (i *Instance) UpdateGroupSetting(ctx context.Context, id string, setting ports.GroupSetting) ports.CommandResult {
	client, err := i.currentClient()
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	if err := client.GroupSettingUpdate(ctx, NormalizeJID(id), setting); err != nil {
		i.logger.WithError(err).Error("group setting update failed")
		return ports.CommandResult{Error: true, Message: "Unable to update group settings, you must be an admin in this group"}
	}
	return ports.CommandResult{Message: "Group settings updated"}
}

func (i *Instance) UpdateGroupSubject(ctx context.Context, id, subject string) ports.CommandResult {
	client, err := i.currentClient()
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	jid := NormalizeJID(id)
	if err := client.GroupUpdateSubject(ctx, jid, subject); err != nil {
		i.logger.WithError(err).Error("group subject update failed")
		return ports.CommandResult{Error: true, Message: "Unable to update subject, you must be an admin in this group"}
	}
	i.reconciler.ApplyGroupUpdate(ctx, []ports.GroupPatch{{ID: jid, Subject: &subject}})
	return ports.CommandResult{Message: "Group subject updated"}
}

func (i *Instance) UpdateGroupDescription(ctx context.Context, id, description string) ports.CommandResult {
	client, err := i.currentClient()
	if err != nil {
		return ports.CommandResult{Error: true, Message: err.Error()}
	}
	if err := client.GroupUpdateDescription(ctx, NormalizeJID(id), description); err != nil {
		i.logger.WithError(err).Error("group description update failed")
		return ports.CommandResult{Error: true, Message: "Unable to update description, you must be an admin in this group"}
	}
	return ports.CommandResult{Message: "Group description updated"}
}

// LeaveGroup leaves a group known to the mirror.
func (i *Instance) LeaveGroup(ctx context.Context, id string) error {
	jid := NormalizeJID(id)
	if _, ok := i.reconciler.Find(jid); !ok {
		return fmt.Errorf("no group exists with id %s", jid)
	}
	client, err := i.currentClient()
	if err != nil {
		return err
	}
	if err := client.GroupLeave(ctx, jid); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	i.reconciler.DeleteChats(ctx, []string{jid})
	return nil
}

// GroupInviteCode returns the invite code of a group known to the mirror.
func (i *Instance) GroupInviteCode(ctx context.Context, id string) (string, error) {
	jid := NormalizeJID(id)
	if _, ok := i.reconciler.Find(jid); !ok {
		return "", fmt.Errorf("no group exists with id %s", jid)
	}
	client, err := i.currentClient()
	if err != nil {
		return "", err
	}
	code, err := client.GroupInviteCode(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("failed to get invite code: %w", err)
	}
	return code, nil
}

// AllGroups returns the group chats of the mirror.
func (i *Instance) AllGroups() []ports.Chat {
	chats := i.reconciler.Chats()
	groups := make([]ports.Chat, 0, len(chats))
	for _, c := range chats {
		if c.IsGroup() {
			groups = append(groups, c)
		}
	}
	return groups
}

// Chats returns the full chat mirror.
func (i *Instance) Chats() []ports.Chat {
	return i.reconciler.Chats()
}

// ChatByID returns the mirrored chat for a possibly bare id.
func (i *Instance) ChatByID(id string) (ports.Chat, bool) {
	return i.reconciler.Find(NormalizeJID(id))
}

// Logout signs the device out. The resulting logged-out close event drives
// credential purge and keeps the instance offline.
func (i *Instance) Logout(ctx context.Context) error {
	client, err := i.currentClient()
	if err != nil {
		return err
	}
	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout %s: %w", i.key, err)
	}
	i.mu.Lock()
	i.online = false
	i.mu.Unlock()
	return nil
}

// Teardown closes the transport and suppresses any further reconnects. Safe
// to call more than once.
func (i *Instance) Teardown() {
	i.mu.Lock()
	if i.closing {
		i.mu.Unlock()
		return
	}
	i.closing = true
	client := i.client
	i.mu.Unlock()

	if client != nil {
		client.Close()
	}
	i.relayWG.Wait()
	i.logger.Info("instance torn down")
}
