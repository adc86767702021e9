package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"wabridge/internal/app"
	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// GroupHandler serves the group administration API. Privilege failures are
// reported inside the CommandResult payload, not as HTTP errors.
type GroupHandler struct {
	BaseHandler
}

func NewGroupHandler(manager *app.Manager, log *logger.Logger) *GroupHandler {
	return &GroupHandler{newBaseHandler(manager, log, "group_handler")}
}

type createGroupRequest struct {
	Name         string   `json:"name" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

type groupParticipantsRequest struct {
	ID           string   `json:"id" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

type participantsUpdateRequest struct {
	ID           string   `json:"id" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
	Action       string   `json:"action" validate:"required,oneof=add remove promote demote"`
}

type groupSettingRequest struct {
	ID      string `json:"id" validate:"required"`
	Setting string `json:"setting" validate:"required,oneof=announcement not_announcement locked unlocked"`
}

type groupSubjectRequest struct {
	ID      string `json:"id" validate:"required"`
	Subject string `json:"subject" validate:"required"`
}

type groupDescriptionRequest struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type groupIDRequest struct {
	ID string `json:"id" validate:"required"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	info, err := inst.CreateGroup(r.Context(), req.Name, req.Participants)
	if err != nil {
		h.handleError(w, err, "create group")
		return
	}
	h.writer.WriteCreated(w, info, "Group created")
}

// ListAll reports the group chats known to the mirror.
func (h *GroupHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	h.writer.WriteSuccess(w, inst.AllGroups())
}

// Find reports one mirrored chat by id.
func (h *GroupHandler) Find(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writer.WriteBadRequest(w, "id query parameter is required")
		return
	}

	chat, found := inst.ChatByID(id)
	if !found {
		h.writer.WriteNotFound(w, "no group exists with the given id")
		return
	}
	h.writer.WriteSuccess(w, chat)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupIDRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	if err := inst.LeaveGroup(r.Context(), req.ID); err != nil {
		h.handleError(w, err, "leave group")
		return
	}
	h.writer.WriteSuccess(w, nil, "Left group")
}

func (h *GroupHandler) InviteCode(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "groupId")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		h.writer.WriteBadRequest(w, "group id is required")
		return
	}

	code, err := inst.GroupInviteCode(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "fetch group invite code")
		return
	}
	h.writer.WriteSuccess(w, map[string]interface{}{"inviteCode": code})
}

func (h *GroupHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupParticipantsRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.AddGroupParticipants(r.Context(), req.ID, req.Participants))
}

func (h *GroupHandler) PromoteParticipants(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupParticipantsRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.PromoteGroupParticipants(r.Context(), req.ID, req.Participants))
}

func (h *GroupHandler) DemoteParticipants(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupParticipantsRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.DemoteGroupParticipants(r.Context(), req.ID, req.Participants))
}

// UpdateParticipants applies an arbitrary membership action.
func (h *GroupHandler) UpdateParticipants(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req participantsUpdateRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	result := inst.UpdateGroupParticipants(r.Context(), req.ID, req.Participants, ports.ParticipantAction(req.Action))
	h.writer.WriteSuccess(w, result)
}

func (h *GroupHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupSettingRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.UpdateGroupSetting(r.Context(), req.ID, ports.GroupSetting(req.Setting)))
}

func (h *GroupHandler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupSubjectRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.UpdateGroupSubject(r.Context(), req.ID, req.Subject))
}

func (h *GroupHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instanceFromURL(w, r)
	if !ok {
		return
	}
	var req groupDescriptionRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	h.writer.WriteSuccess(w, inst.UpdateGroupDescription(r.Context(), req.ID, req.Description))
}
