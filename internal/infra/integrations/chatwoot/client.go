package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wabridge/platform/logger"
)

// Contact is a Chatwoot contact record.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier"`
}

// Conversation is a Chatwoot conversation record.
type Conversation struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Meta   struct {
		Sender struct {
			ID int `json:"id"`
		} `json:"sender"`
	} `json:"meta"`
}

// Message is a Chatwoot message record.
type Message struct {
	ID          int    `json:"id"`
	Content     string `json:"content"`
	MessageType int    `json:"message_type"`
}

// Client is a minimal Chatwoot API client scoped to one account.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	baseURL    string
	token      string
	accountID  int
}

// NewClient creates a new Chatwoot API client.
func NewClient(baseURL, token string, accountID int, log *logger.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithModule("chatwoot"),
	}
}

// SearchContact looks a contact up by phone number. Returns nil when no
// contact matches.
func (c *Client) SearchContact(ctx context.Context, phone string) (*Contact, error) {
	var response struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
		Payload []Contact `json:"payload"`
	}

	endpoint := fmt.Sprintf("/contacts/search?q=%s", url.QueryEscape(phone))
	if err := c.makeRequest(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to search contact: %w", err)
	}

	if response.Meta.Count == 0 || len(response.Payload) == 0 {
		return nil, nil
	}
	return &response.Payload[0], nil
}

// CreateContact creates a contact bound to an inbox.
func (c *Client) CreateContact(ctx context.Context, inboxID int, name, phone string) (*Contact, error) {
	payload := map[string]interface{}{
		"inbox_id":     inboxID,
		"name":         name,
		"phone_number": phone,
		"identifier":   phone,
	}

	var response struct {
		Payload struct {
			Contact Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := c.makeRequest(ctx, "POST", "/contacts", payload, &response); err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return &response.Payload.Contact, nil
}

// ListContactConversations lists the conversations of a contact.
func (c *Client) ListContactConversations(ctx context.Context, contactID int) ([]Conversation, error) {
	var response struct {
		Payload []Conversation `json:"payload"`
	}

	endpoint := fmt.Sprintf("/contacts/%d/conversations", contactID)
	if err := c.makeRequest(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to list contact conversations: %w", err)
	}
	return response.Payload, nil
}

// CreateConversation opens a conversation for a contact in an inbox.
func (c *Client) CreateConversation(ctx context.Context, inboxID, contactID int, sourceID string) (*Conversation, error) {
	payload := map[string]interface{}{
		"source_id":  sourceID,
		"inbox_id":   inboxID,
		"contact_id": contactID,
		"status":     "open",
	}

	var conversation Conversation
	if err := c.makeRequest(ctx, "POST", "/conversations", payload, &conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conversation, nil
}

// CreateMessage posts a message into a conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, content, messageType string) (*Message, error) {
	payload := map[string]interface{}{
		"content":      content,
		"message_type": messageType,
	}

	var message Message
	endpoint := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.makeRequest(ctx, "POST", endpoint, payload, &message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &message, nil
}

// makeRequest performs one authenticated call against the account-scoped API.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) error {
	reqURL := fmt.Sprintf("%s/api/v1/accounts/%d%s", c.baseURL, c.accountID, endpoint)

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_access_token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("API request failed with status %d (failed to read response body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
