package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"wabridge/internal/app"
	"wabridge/internal/engine"
	"wabridge/internal/infra/http/router"
	"wabridge/internal/ports"
	"wabridge/platform/config"
	"wabridge/platform/logger"
)

const testAPIKey = "test-api-key-1234567890"

type stubStore struct {
	mu      sync.Mutex
	configs map[string]ports.DeliveryConfig
	chats   map[string][]ports.Chat
}

func newStubStore() *stubStore {
	return &stubStore{
		configs: make(map[string]ports.DeliveryConfig),
		chats:   make(map[string][]ports.Chat),
	}
}

func (s *stubStore) SaveConfig(_ context.Context, key string, cfg ports.DeliveryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[key] = cfg
	return nil
}

func (s *stubStore) GetConfig(_ context.Context, key string) (*ports.DeliveryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, ports.ErrInstanceNotFound
	}
	return &cfg, nil
}

func (s *stubStore) GetChats(_ context.Context, key string) ([]ports.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats, ok := s.chats[key]
	if !ok {
		if _, hasConfig := s.configs[key]; !hasConfig {
			return nil, ports.ErrInstanceNotFound
		}
		return nil, nil
	}
	return chats, nil
}

func (s *stubStore) ReplaceChats(_ context.Context, key string, chats []ports.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[key] = chats
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, key)
	delete(s.chats, key)
	return nil
}

func (s *stubStore) ListKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.configs))
	for key := range s.configs {
		keys = append(keys, key)
	}
	return keys, nil
}

// stubClient is a scriptable transport handle shared across one fixture.
type stubClient struct {
	mu             sync.Mutex
	events         chan ports.Event
	closed         bool
	onNetwork      bool
	participantErr error
	sentTexts      []string
}

func newStubClient() *stubClient {
	return &stubClient{
		events:    make(chan ports.Event, 16),
		onNetwork: true,
	}
}

func (c *stubClient) Open(context.Context) error { return nil }

func (c *stubClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *stubClient) Events() <-chan ports.Event { return c.events }

func (c *stubClient) Logout(context.Context) error { return nil }

func (c *stubClient) PurgeCredentials(context.Context) error { return nil }

func (c *stubClient) IsOnNetwork(_ context.Context, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onNetwork, nil
}

func (c *stubClient) ConnectedUser() *ports.UserInfo { return &ports.UserInfo{ID: "self"} }
func (c *stubClient) IsConnected() bool { return true }

func (c *stubClient) SendText(_ context.Context, to, body string) (*ports.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTexts = append(c.sentTexts, fmt.Sprintf("%s|%s", to, body))
	return &ports.SendResult{ID: "MSG1", Timestamp: 100}, nil
}

func (c *stubClient) SendMedia(context.Context, string, ports.MediaPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG2", Timestamp: 100}, nil
}

func (c *stubClient) SendButtons(context.Context, string, ports.ButtonsPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG3", Timestamp: 100}, nil
}

func (c *stubClient) SendList(context.Context, string, ports.ListPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG4", Timestamp: 100}, nil
}

func (c *stubClient) SendLocation(context.Context, string, ports.LocationPayload) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG5", Timestamp: 100}, nil
}

func (c *stubClient) SendContact(context.Context, string, ports.ContactCard) (*ports.SendResult, error) {
	return &ports.SendResult{ID: "MSG6", Timestamp: 100}, nil
}

func (c *stubClient) SendPresence(context.Context, string, string) error { return nil }

func (c *stubClient) UpdateProfilePicture(context.Context, string, []byte) error { return nil }

func (c *stubClient) FetchAllParticipatingGroups(context.Context) (map[string]ports.GroupInfo, error) {
	return map[string]ports.GroupInfo{}, nil
}

func (c *stubClient) GroupCreate(_ context.Context, name string, participants []string) (*ports.GroupInfo, error) {
	info := &ports.GroupInfo{ID: "123-456@g.us", Subject: name}
	for _, p := range participants {
		info.Participants = append(info.Participants, ports.Participant{ID: p})
	}
	return info, nil
}

func (c *stubClient) GroupLeave(context.Context, string) error { return nil }

func (c *stubClient) GroupInviteCode(context.Context, string) (string, error) {
	return "INVITE", nil
}

func (c *stubClient) GroupParticipantsUpdate(context.Context, string, []string, ports.ParticipantAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantErr
}

func (c *stubClient) GroupSettingUpdate(context.Context, string, ports.GroupSetting) error {
	return nil
}

func (c *stubClient) GroupUpdateSubject(context.Context, string, string) error { return nil }
func (c *stubClient) GroupUpdateDescription(context.Context, string, string) error { return nil }

// stubFactory hands out a shared scripted client, then fresh ones for any
// reconnects.
type stubFactory struct {
	mu     sync.Mutex
	first  *stubClient
	handed bool
}

func (f *stubFactory) NewClient(string) (ports.ProtocolClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.handed {
		f.handed = true
		return f.first, nil
	}
	return newStubClient(), nil
}

type fixture struct {
	handler http.Handler
	manager *app.Manager
	client  *stubClient
	store   *stubStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		APIKey: testAPIKey,
		Instance: config.InstanceConfig{
			MaxQRRetries:  5,
			RecentBuffer:  10,
			ReconnectBase: 1,
			ReconnectCap:  1,
		},
	}

	log := logger.New(logger.TestConfig())
	store := newStubStore()
	client := newStubClient()
	factory := &stubFactory{first: client}
	registry := engine.NewRegistry(log)
	manager := app.NewManager(cfg, store, factory, registry, nil, log)

	t.Cleanup(func() {
		for _, key := range registry.Keys() {
			if inst, ok := registry.Lookup(key); ok {
				inst.Teardown()
			}
		}
	})

	return &fixture{
		handler: router.SetupRoutes(cfg, log, manager),
		manager: manager,
		client:  client,
		store:   store,
	}
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return envelope
}

func (f *fixture) initInstance(t *testing.T, key string) {
	t.Helper()
	rec := f.request(t, http.MethodPost, "/instance/init", map[string]string{"key": key})
	if rec.Code != http.StatusCreated {
		t.Fatalf("init returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInitGeneratesKeyWhenAbsent(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/instance/init", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	data, _ := envelope["data"].(map[string]interface{})
	key, _ := data["instance_key"].(string)
	if key == "" {
		t.Fatalf("expected generated instance key, got %v", envelope)
	}
	if _, ok := f.manager.Lookup(key); !ok {
		t.Fatalf("instance %s not registered", key)
	}
}

func TestInitDuplicateKeyIsConflict(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	rec := f.request(t, http.MethodPost, "/instance/init", map[string]string{"key": "acct1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownInstanceIsNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/message/ghost/text", map[string]string{
		"id":      "5511999999999",
		"message": "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendTextNormalizesAndDelivers(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	rec := f.request(t, http.MethodPost, "/message/acct1/text", map[string]string{
		"id":      "5511999999999",
		"message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if len(f.client.sentTexts) != 1 {
		t.Fatalf("expected 1 sent text, got %d", len(f.client.sentTexts))
	}
	want := "5511999999999@s.whatsapp.net|hello"
	if f.client.sentTexts[0] != want {
		t.Fatalf("sent %q, want %q", f.client.sentTexts[0], want)
	}
}

func TestSendTextToUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	f.client.mu.Lock()
	f.client.onNetwork = false
	f.client.mu.Unlock()

	rec := f.request(t, http.MethodPost, "/message/acct1/text", map[string]string{
		"id":      "5511999999999",
		"message": "hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	if envelope["error"] != "no account exists with the given id" {
		t.Fatalf("unexpected error message: %v", envelope["error"])
	}
}

func TestValidationFailureReportsFields(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	rec := f.request(t, http.MethodPost, "/message/acct1/text", map[string]string{
		"id": "5511999999999",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	if envelope["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error code, got %v", envelope)
	}
}

func TestGroupPrivilegeFailureIsAValue(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	f.client.mu.Lock()
	f.client.participantErr = fmt.Errorf("not authorized")
	f.client.mu.Unlock()

	rec := f.request(t, http.MethodPost, "/group/acct1/participants/add", map[string]interface{}{
		"id":           "123-456@g.us",
		"participants": []string{"5511888888888"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	data, _ := envelope["data"].(map[string]interface{})
	if data["error"] != true {
		t.Fatalf("expected command failure value, got %v", envelope)
	}
	if data["message"] == "" || data["message"] == nil {
		t.Fatalf("expected failure message, got %v", data)
	}
}

func TestDeleteRemovesInstanceAndDocument(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	rec := f.request(t, http.MethodDelete, "/instance/acct1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, ok := f.manager.Lookup("acct1"); ok {
		t.Fatal("instance still registered after delete")
	}
	if _, err := f.store.GetConfig(context.Background(), "acct1"); err != ports.ErrInstanceNotFound {
		t.Fatalf("expected document gone, got err=%v", err)
	}
}

func TestListActiveInstances(t *testing.T) {
	f := newFixture(t)
	f.initInstance(t, "acct1")

	rec := f.request(t, http.MethodGet, "/instance/list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	data, _ := envelope["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("expected 1 active instance, got %v", envelope)
	}
}
