package handler

import (
	"encoding/base64"
	"net/http"
	"strings"

	"wabridge/internal/app"
	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// MessageHandler serves the outbound messaging API. Every send verifies the
// recipient before the payload leaves the process.
type MessageHandler struct {
	BaseHandler
}

func NewMessageHandler(manager *app.Manager, log *logger.Logger) *MessageHandler {
	return &MessageHandler{newBaseHandler(manager, log, "message_handler")}
}

type sendTextRequest struct {
	ID      string `json:"id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type sendMediaRequest struct {
	ID       string `json:"id" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=image video audio document"`
	URL      string `json:"url" validate:"required,url"`
	MimeType string `json:"mimeType"`
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}

type buttonRequest struct {
	ID   string `json:"id"`
	Text string `json:"text" validate:"required"`
}

type sendButtonsRequest struct {
	ID      string          `json:"id" validate:"required"`
	Text    string          `json:"text" validate:"required"`
	Footer  string          `json:"footerText"`
	Buttons []buttonRequest `json:"buttons" validate:"required,min=1,max=3,dive"`
}

type listRowRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

type listSectionRequest struct {
	Title string           `json:"title" validate:"required"`
	Rows  []listRowRequest `json:"rows" validate:"required,min=1,dive"`
}

type sendListRequest struct {
	ID          string               `json:"id" validate:"required"`
	Title       string               `json:"title" validate:"required"`
	Text        string               `json:"text" validate:"required"`
	ButtonText  string               `json:"buttonText" validate:"required"`
	Description string               `json:"description"`
	Sections    []listSectionRequest `json:"sections" validate:"required,min=1,dive"`
}

type sendLocationRequest struct {
	ID        string  `json:"id" validate:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

type sendContactRequest struct {
	ID           string `json:"id" validate:"required"`
	FullName     string `json:"fullName" validate:"required"`
	Organization string `json:"organization"`
	PhoneNumber  string `json:"phoneNumber" validate:"required"`
}

type presenceRequest struct {
	ID    string `json:"id"`
	State string `json:"state" validate:"required,oneof=composing recording paused available unavailable"`
}

type profilePictureRequest struct {
	ID    string `json:"id"`
	Image string `json:"image" validate:"required"`
}

func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendTextRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := inst.SendText(r.Context(), req.ID, req.Message)
	if err != nil {
		h.handleError(w, err, "send text message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

func (h *MessageHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendMediaRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := inst.SendMedia(r.Context(), req.ID, ports.MediaPayload{
		Kind:     ports.MediaKind(req.Type),
		URL:      req.URL,
		MimeType: req.MimeType,
		Caption:  req.Caption,
		FileName: req.FileName,
	})
	if err != nil {
		h.handleError(w, err, "send media message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

func (h *MessageHandler) SendButtons(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendButtonsRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	payload := ports.ButtonsPayload{Text: req.Text, Footer: req.Footer}
	for _, b := range req.Buttons {
		payload.Buttons = append(payload.Buttons, ports.Button{ID: b.ID, Text: b.Text})
	}

	result, err := inst.SendButtons(r.Context(), req.ID, payload)
	if err != nil {
		h.handleError(w, err, "send buttons message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

func (h *MessageHandler) SendList(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendListRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	payload := ports.ListPayload{
		Title:       req.Title,
		Text:        req.Text,
		ButtonText:  req.ButtonText,
		Description: req.Description,
	}
	for _, s := range req.Sections {
		section := ports.ListSection{Title: s.Title}
		for _, row := range s.Rows {
			section.Rows = append(section.Rows, ports.ListRow{
				ID:          row.ID,
				Title:       row.Title,
				Description: row.Description,
			})
		}
		payload.Sections = append(payload.Sections, section)
	}

	result, err := inst.SendList(r.Context(), req.ID, payload)
	if err != nil {
		h.handleError(w, err, "send list message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

func (h *MessageHandler) SendLocation(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendLocationRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := inst.SendLocation(r.Context(), req.ID, ports.LocationPayload{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Address:   req.Address,
	})
	if err != nil {
		h.handleError(w, err, "send location message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

func (h *MessageHandler) SendContact(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req sendContactRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := inst.SendContact(r.Context(), req.ID, ports.ContactCard{
		FullName:     req.FullName,
		Organization: req.Organization,
		PhoneNumber:  req.PhoneNumber,
	})
	if err != nil {
		h.handleError(w, err, "send contact message")
		return
	}
	h.writer.WriteSuccess(w, result, "Message sent")
}

// SetPresence publishes a chat or global presence state.
func (h *MessageHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req presenceRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	if err := inst.SendPresence(r.Context(), req.ID, req.State); err != nil {
		h.handleError(w, err, "set presence")
		return
	}
	h.writer.WriteSuccess(w, nil, "Presence updated")
}

// Verify checks whether an id exists on the network and reports its
// normalized form.
func (h *MessageHandler) Verify(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writer.WriteBadRequest(w, "id query parameter is required")
		return
	}

	normalized, err := inst.VerifyRecipient(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "verify recipient")
		return
	}
	h.writer.WriteSuccess(w, map[string]interface{}{"id": normalized, "exists": true})
}

// UpdateProfilePicture sets the account's own picture, or a group's when a
// group id is given. The image arrives base64 encoded, optionally as a data
// URL.
func (h *MessageHandler) UpdateProfilePicture(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req profilePictureRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	encoded := req.Image
	if idx := strings.Index(encoded, "base64,"); idx >= 0 {
		encoded = encoded[idx+len("base64,"):]
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		h.writer.WriteBadRequest(w, "image must be base64 encoded")
		return
	}

	result := inst.UpdateProfilePicture(r.Context(), req.ID, image)
	h.writer.WriteSuccess(w, result)
}
