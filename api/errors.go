// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/lifecycle"
	"github.com/wrever/certix/ledger"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(
	w http.ResponseWriter,
	status int,
	message string,
) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps an error to the HTTP status reported to the client
func statusFor(err error) int {
	var lerr *lifecycle.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case lifecycle.KindValidation:
			return http.StatusBadRequest
		case lifecycle.KindAuthorization:
			return http.StatusForbidden
		case lifecycle.KindNotFound:
			return http.StatusNotFound
		case lifecycle.KindConflict:
			return http.StatusConflict
		case lifecycle.KindLedger:
			return http.StatusBadGateway
		case lifecycle.KindContract:
			return http.StatusUnprocessableEntity
		case lifecycle.KindSigner:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	var validationErr *database.ValidationError
	var simErr *ledger.SimulationError
	var submitErr *ledger.SubmitError
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotRegistered):
		return http.StatusNotFound
	case errors.As(err, &simErr), errors.As(err, &submitErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its mapped status. Lifecycle errors carry a
// client message; anything else that maps to a 500 is logged and replaced by
// fallback.
func (s *Server) writeFailure(
	w http.ResponseWriter,
	err error,
	fallback string,
) {
	status := statusFor(err)
	message := err.Error()
	var lerr *lifecycle.Error
	switch {
	case errors.Is(err, database.ErrNotFound):
		message = "Certificate not found"
	case errors.As(err, &lerr):
		message = lerr.Message
		if message == "" {
			message = fallback
		}
	case status == http.StatusInternalServerError:
		s.logger.Error(fallback, "error", err)
		message = fallback
	}
	if status >= http.StatusInternalServerError && lerr != nil {
		s.logger.Error(
			fallback,
			"error", err,
			"stage", string(lerr.Stage),
			"kind", lerr.Kind.String(),
		)
	}
	writeError(w, status, message)
}

// decodeRequest decodes a JSON request body into dst
func decodeRequest(
	w http.ResponseWriter,
	r *http.Request,
	dst any,
) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer body.Close()
	decoder := json.NewDecoder(body)
	return decoder.Decode(dst)
}
