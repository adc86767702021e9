package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.TestConfig())
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// memStore is an in-memory InstanceRepository with a switchable write fault.
type memStore struct {
	mu          sync.Mutex
	configs     map[string]ports.DeliveryConfig
	chats       map[string][]ports.Chat
	failReplace bool
	saveCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		configs: make(map[string]ports.DeliveryConfig),
		chats:   make(map[string][]ports.Chat),
	}
}

func (s *memStore) SaveConfig(_ context.Context, key string, cfg ports.DeliveryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.configs[key] = cfg
	return nil
}

func (s *memStore) GetConfig(_ context.Context, key string) (*ports.DeliveryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, ports.ErrInstanceNotFound
	}
	return &cfg, nil
}

func (s *memStore) GetChats(_ context.Context, key string) ([]ports.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats, ok := s.chats[key]
	if !ok {
		if _, cfgOK := s.configs[key]; !cfgOK {
			return nil, ports.ErrInstanceNotFound
		}
		return nil, nil
	}
	return cloneChats(chats), nil
}

func (s *memStore) ReplaceChats(_ context.Context, key string, chats []ports.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplace {
		return errors.New("replace failed")
	}
	s.chats[key] = cloneChats(chats)
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, key)
	delete(s.chats, key)
	return nil
}

func (s *memStore) ListKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.configs))
	for k := range s.configs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memStore) storedChats(key string) []ports.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneChats(s.chats[key])
}

func (s *memStore) setFailReplace(fail bool) {
	s.mu.Lock()
	s.failReplace = fail
	s.mu.Unlock()
}

// fakeClient is a scriptable ProtocolClient. Events are injected with push;
// Close closes the stream exactly once.
type fakeClient struct {
	mu             sync.Mutex
	events         chan ports.Event
	opened         bool
	closed         bool
	loggedOut      bool
	purged         bool
	onNetwork      map[string]bool
	networkChecks  []string
	sentTexts      []string
	participantErr error
	groups         map[string]ports.GroupInfo
	user           *ports.UserInfo
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan ports.Event, 32)}
}

func (c *fakeClient) push(ev ports.Event) { c.events <- ev }

func (c *fakeClient) Open(context.Context) error {
	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *fakeClient) Events() <-chan ports.Event { return c.events }

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) PurgeCredentials(context.Context) error {
	c.mu.Lock()
	c.purged = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) IsOnNetwork(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkChecks = append(c.networkChecks, id)
	if c.onNetwork == nil {
		return true, nil
	}
	return c.onNetwork[id], nil
}

func (c *fakeClient) ConnectedUser() *ports.UserInfo { return c.user }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

func (c *fakeClient) SendText(_ context.Context, to, body string) (*ports.SendResult, error) {
	c.mu.Lock()
	c.sentTexts = append(c.sentTexts, to+"|"+body)
	c.mu.Unlock()
	return &ports.SendResult{ID: "MSG1", Timestamp: time.Now().Unix()}, nil
}

func (c *fakeClient) SendMedia(context.Context, string, ports.MediaPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG1"}, nil
}

func (c *fakeClient) SendButtons(context.Context, string, ports.ButtonsPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG1"}, nil
}

func (c *fakeClient) SendList(context.Context, string, ports.ListPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG1"}, nil
}

func (c *fakeClient) SendLocation(context.Context, string, ports.LocationPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG1"}, nil
}

func (c *fakeClient) SendContact(context.Context, string, ports.ContactCard) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG1"}, nil
}

func (c *fakeClient) SendPresence(context.Context, string, string) error { return nil }

func (c *fakeClient) UpdateProfilePicture(context.Context, string, []byte) error { return nil }

func (c *fakeClient) FetchAllParticipatingGroups(context.Context) (map[string]ports.GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups, nil
}

func (c *fakeClient) GroupCreate(_ context.Context, name string, participants []string) (*ports.GroupInfo, error) {
	members := make([]ports.Participant, 0, len(participants))
	for _, p := range participants {
		members = append(members, ports.Participant{ID: p})
	}
	return &ports.GroupInfo{ID: "111-222@g.us", Subject: name, Participants: members}, nil
}

func (c *fakeClient) GroupLeave(context.Context, string) error { return nil }

func (c *fakeClient) GroupInviteCode(context.Context, string) (string, error) {
	return "invitecode", nil
}

func (c *fakeClient) GroupParticipantsUpdate(context.Context, string, []string, ports.ParticipantAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantErr
}

func (c *fakeClient) GroupSettingUpdate(context.Context, string, ports.GroupSetting) error {
	return nil
}

func (c *fakeClient) GroupUpdateSubject(context.Context, string, string) error { return nil }

func (c *fakeClient) GroupUpdateDescription(context.Context, string, string) error { return nil }

func (c *fakeClient) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) wasPurged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purged
}

func (c *fakeClient) networkCheckCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.networkChecks)
}

// fakeFactory mints a fresh fakeClient per call.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (f *fakeFactory) NewClient(string) (ports.ProtocolClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeClient()
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(n int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[n]
}

type webhookCall struct {
	Type string
	Body interface{}
}

// fakeWebhook records every envelope it is asked to deliver.
type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
}

func (w *fakeWebhook) Send(_ context.Context, eventType string, body interface{}) {
	w.mu.Lock()
	w.calls = append(w.calls, webhookCall{Type: eventType, Body: body})
	w.mu.Unlock()
}

func (w *fakeWebhook) countType(eventType string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c.Type == eventType {
			n++
		}
	}
	return n
}

// fakeHelpdesk counts relayed messages.
type fakeHelpdesk struct {
	mu   sync.Mutex
	msgs []ports.Message
}

func (h *fakeHelpdesk) RelayMessage(_ context.Context, msg ports.Message) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	return nil
}

func (h *fakeHelpdesk) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}
