package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"wabridge/internal/app"
	"wabridge/internal/engine"
	"wabridge/internal/infra/http/shared"
	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// BaseHandler bundles the pieces every handler needs: the instance manager,
// response writing and request validation.
type BaseHandler struct {
	manager   *app.Manager
	logger    *logger.Logger
	writer    *shared.ResponseWriter
	validator *shared.Validator
}

func newBaseHandler(manager *app.Manager, log *logger.Logger, module string) BaseHandler {
	moduleLogger := log.WithModule(module)
	return BaseHandler{
		manager:   manager,
		logger:    moduleLogger,
		writer:    shared.NewResponseWriter(moduleLogger),
		validator: shared.NewValidator(),
	}
}

// keyParam extracts the {instanceKey} URL parameter.
func keyParam(r *http.Request) string {
	return chi.URLParam(r, "instanceKey")
}

// instanceFromURL resolves the {instanceKey} URL parameter to an active
// instance, writing the error response itself on failure.
func (h *BaseHandler) instanceFromURL(w http.ResponseWriter, r *http.Request) (*engine.Instance, bool) {
	key := keyParam(r)
	if key == "" {
		h.writer.WriteBadRequest(w, "instance key is required")
		return nil, false
	}

	inst, ok := h.manager.Lookup(key)
	if !ok {
		h.writer.WriteNotFound(w, "Instance not found")
		return nil, false
	}
	return inst, true
}

// decodeAndValidate parses the JSON body into dest and validates it, writing
// the error response itself on failure. An empty body leaves dest zeroed
// when allowEmpty is set.
func (h *BaseHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return true
		}
		h.writer.WriteBadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}

	if fieldErrors := h.validator.ValidateStruct(dest); len(fieldErrors) > 0 {
		h.writer.WriteValidationError(w, fieldErrors)
		return false
	}
	return true
}

// handleError maps domain errors onto status codes and logs the failure.
func (h *BaseHandler) handleError(w http.ResponseWriter, err error, operation string) {
	h.logger.WithError(err).ErrorWithFields(fmt.Sprintf("failed to %s", operation), map[string]interface{}{
		"operation": operation,
	})

	switch {
	case errors.Is(err, ports.ErrInstanceNotFound):
		h.writer.WriteNotFound(w, "Instance not found")
	case errors.Is(err, app.ErrInstanceExists):
		h.writer.WriteConflict(w, "Instance already exists")
	case errors.Is(err, ports.ErrRecipientNotFound):
		h.writer.WriteBadRequest(w, "no account exists with the given id")
	case strings.Contains(err.Error(), "no group exists"):
		h.writer.WriteNotFound(w, err.Error())
	default:
		h.writer.WriteInternalError(w, fmt.Sprintf("Failed to %s", operation))
	}
}
