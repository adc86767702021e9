package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wabridge/platform/logger"
)

// Envelope is the wire shape of every webhook delivery.
type Envelope struct {
	Type string      `json:"type"`
	Body interface{} `json:"body"`
}

// Sender posts event envelopes to one account's webhook URL. Delivery is
// fire-and-forget: Send returns immediately and failures are only logged.
type Sender struct {
	url        string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewSender(url string, log *logger.Logger) *Sender {
	return &Sender{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithModule("webhook"),
	}
}

func (s *Sender) Send(_ context.Context, eventType string, body interface{}) {
	payload, err := json.Marshal(Envelope{Type: eventType, Body: body})
	if err != nil {
		s.logger.WithError(err).ErrorWithFields("failed to marshal webhook envelope", map[string]interface{}{
			"event_type": eventType,
		})
		return
	}

	go s.deliver(eventType, payload)
}

func (s *Sender) deliver(eventType string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.logger.WithError(err).Error("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).ErrorWithFields("webhook delivery failed", map[string]interface{}{
			"event_type": eventType,
			"url":        s.url,
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.ErrorWithFields("webhook delivery rejected", map[string]interface{}{
			"event_type": eventType,
			"url":        s.url,
			"status":     fmt.Sprintf("%d", resp.StatusCode),
		})
	}
}
