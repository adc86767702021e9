package shared

import (
	"encoding/json"
	"net/http"

	"wabridge/platform/logger"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Success bool        `json:"success"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Details interface{} `json:"details,omitempty"`
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Success bool        `json:"success"`
}

// ValidationError describes one failed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ResponseWriter writes the JSON envelopes.
type ResponseWriter struct {
	logger *logger.Logger
}

func NewResponseWriter(log *logger.Logger) *ResponseWriter {
	return &ResponseWriter{logger: log}
}

func (rw *ResponseWriter) WriteSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	response := &SuccessResponse{Success: true, Data: data}
	if len(message) > 0 {
		response.Message = message[0]
	}
	rw.writeJSON(w, http.StatusOK, response)
}

func (rw *ResponseWriter) WriteCreated(w http.ResponseWriter, data interface{}, message ...string) {
	response := &SuccessResponse{Success: true, Data: data}
	if len(message) > 0 {
		response.Message = message[0]
	}
	rw.writeJSON(w, http.StatusCreated, response)
}

func (rw *ResponseWriter) WriteError(w http.ResponseWriter, statusCode int, message string, details ...interface{}) {
	response := &ErrorResponse{Success: false, Error: message}
	if len(details) > 0 {
		response.Details = details[0]
	}
	rw.writeJSON(w, statusCode, response)
}

func (rw *ResponseWriter) WriteBadRequest(w http.ResponseWriter, message string, details ...interface{}) {
	rw.WriteError(w, http.StatusBadRequest, message, details...)
}

func (rw *ResponseWriter) WriteNotFound(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusNotFound, message)
}

func (rw *ResponseWriter) WriteConflict(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusConflict, message)
}

func (rw *ResponseWriter) WriteInternalError(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusInternalServerError, message)
}

// WriteValidationError reports failed request validation.
func (rw *ResponseWriter) WriteValidationError(w http.ResponseWriter, errors []ValidationError) {
	response := &ErrorResponse{
		Success: false,
		Error:   "Validation failed",
		Code:    "VALIDATION_ERROR",
		Details: errors,
	}
	rw.writeJSON(w, http.StatusBadRequest, response)
}

func (rw *ResponseWriter) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.logger.ErrorWithFields("failed to encode JSON response", map[string]interface{}{
			"error":       err.Error(),
			"status_code": statusCode,
		})
	}
}
