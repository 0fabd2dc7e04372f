// Package httpx provides the JSON envelope used by every API response.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/counselhub/counselhub/internal/shared"
)

// MaxBodyBytes bounds request bodies decoded by DecodeJSON.
const MaxBodyBytes = 1 << 20

// Envelope is the {success, message, data} body returned by every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// Accepted writes a 202 envelope for work handed to the job queue.
func Accepted(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusAccepted, Envelope{Success: true, Message: message, Data: data})
}

// Fail writes a failure envelope.
func Fail(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: false, Message: message, Data: data})
}

// DecodeJSON decodes the request body into target and validates it.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return shared.NewUserError(shared.ErrValidation, "요청 본문이 비어 있습니다.")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.NewUserError(shared.ErrValidation, "요청 본문이 비어 있습니다.")
		}
		return shared.NewUserError(shared.ErrValidation, "요청 형식이 올바르지 않습니다.")
	}
	return Validate(target)
}
