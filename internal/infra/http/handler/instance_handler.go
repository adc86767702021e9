package handler

import (
	"net/http"

	"wabridge/internal/app"
	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// InstanceHandler serves the account lifecycle API.
type InstanceHandler struct {
	BaseHandler
}

func NewInstanceHandler(manager *app.Manager, log *logger.Logger) *InstanceHandler {
	return &InstanceHandler{newBaseHandler(manager, log, "instance_handler")}
}

type initInstanceRequest struct {
	Key      string           `json:"key" validate:"omitempty,instance_key"`
	Webhook  string           `json:"webhook" validate:"omitempty,url"`
	Helpdesk *helpdeskRequest `json:"helpdesk"`
}

type helpdeskRequest struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"baseUrl" validate:"omitempty,url"`
	Token     string `json:"token"`
	InboxID   int    `json:"inboxId" validate:"omitempty,min=1"`
	AccountID int    `json:"accountId" validate:"omitempty,min=1"`
}

type qrResponse struct {
	Key    string `json:"instance_key"`
	QRCode string `json:"qrcode"`
}

type instanceInfoResponse struct {
	ports.InstanceSummary
	State     ports.ConnectionState `json:"state"`
	ChatCount int                   `json:"chatCount"`
}

// Init creates and starts a new account instance. The key is generated when
// absent from the request.
func (h *InstanceHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initInstanceRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}

	opts := app.InitOptions{Key: req.Key, WebhookURL: req.Webhook}
	if req.Helpdesk != nil {
		opts.Helpdesk = &ports.HelpdeskConfig{
			Enabled:   req.Helpdesk.Enabled,
			BaseURL:   req.Helpdesk.BaseURL,
			Token:     req.Helpdesk.Token,
			InboxID:   req.Helpdesk.InboxID,
			AccountID: req.Helpdesk.AccountID,
		}
	}

	inst, err := h.manager.InitInstance(r.Context(), opts)
	if err != nil {
		h.handleError(w, err, "initialize instance")
		return
	}

	h.writer.WriteCreated(w, inst.Summary(), "Instance initialized")
}

// QR serves the current login challenge as a PNG data URL, the expiry
// sentinel once the challenge budget is spent, or empty when none is
// pending.
func (h *InstanceHandler) QR(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	h.writer.WriteSuccess(w, qrResponse{Key: inst.Key(), QRCode: inst.QRCode()})
}

// Info reports the instance summary, lifecycle state and mirror size.
func (h *InstanceHandler) Info(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	h.writer.WriteSuccess(w, instanceInfoResponse{
		InstanceSummary: inst.Summary(),
		State:           inst.ConnectionState(),
		ChatCount:       len(inst.Chats()),
	})
}

// Restore recreates instances for every persisted key not already active.
func (h *InstanceHandler) Restore(w http.ResponseWriter, r *http.Request) {
	restored := h.manager.RestoreAll(r.Context())
	h.writer.WriteSuccess(w, map[string]interface{}{"restored": restored}, "Instance restore completed")
}

// Logout signs the account out while keeping the instance registered.
func (h *InstanceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	if err := inst.Logout(r.Context()); err != nil {
		h.handleError(w, err, "logout instance")
		return
	}
	h.writer.WriteSuccess(w, nil, "Instance logged out")
}

// Delete tears the instance down and removes its persisted document.
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFromURL(w, r)
	if !ok {
		return
	}

	if err := h.manager.DeleteInstance(r.Context(), key); err != nil {
		h.handleError(w, err, "delete instance")
		return
	}
	h.writer.WriteSuccess(w, nil, "Instance deleted")
}

// List reports the active instance summaries, or every persisted key when
// ?persisted=true.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("persisted") == "true" {
		keys, err := h.manager.ListKeys(r.Context())
		if err != nil {
			h.handleError(w, err, "list persisted instances")
			return
		}
		h.writer.WriteSuccess(w, map[string]interface{}{"keys": keys})
		return
	}

	h.writer.WriteSuccess(w, h.manager.ListActive())
}

// keyFromURL extracts the instance key without requiring it to be active.
// Delete must work on keys whose instance is already gone.
func (h *InstanceHandler) keyFromURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := keyParam(r)
	if key == "" {
		h.writer.WriteBadRequest(w, "instance key is required")
		return "", false
	}
	return key, true
}
