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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/lifecycle"
)

func newBareServer() *Server {
	return &Server{
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		metrics: newAPIMetrics(prometheus.NewRegistry()),
	}
}

func TestRecoverPanics(t *testing.T) {
	s := newBareServer()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := s.instrument(s.recoverPanics(mux))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "Internal server error", body.Error)
	assert.InDelta(t, 1, testutil.ToFloat64(s.metrics.panicsTotal), 0)
	assert.InDelta(
		t,
		1,
		testutil.ToFloat64(s.metrics.requestsTotal.WithLabelValues("GET /boom", "500")),
		0,
	)
}

func TestInstrumentUnmatched(t *testing.T) {
	s := newBareServer()
	h := s.instrument(http.NewServeMux())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(
		t,
		1,
		testutil.ToFloat64(s.metrics.requestsTotal.WithLabelValues("unmatched", "404")),
		0,
	)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&lifecycle.Error{Kind: lifecycle.KindValidation}, http.StatusBadRequest},
		{&lifecycle.Error{Kind: lifecycle.KindAuthorization}, http.StatusForbidden},
		{&lifecycle.Error{Kind: lifecycle.KindNotFound}, http.StatusNotFound},
		{&lifecycle.Error{Kind: lifecycle.KindConflict}, http.StatusConflict},
		{&lifecycle.Error{Kind: lifecycle.KindLedger}, http.StatusBadGateway},
		{&lifecycle.Error{Kind: lifecycle.KindContract}, http.StatusUnprocessableEntity},
		{&lifecycle.Error{Kind: lifecycle.KindSigner}, http.StatusServiceUnavailable},
		{&lifecycle.Error{Kind: lifecycle.KindInternal}, http.StatusInternalServerError},
		{fmt.Errorf("%w: abc", database.ErrNotFound), http.StatusNotFound},
		{&database.ValidationError{Field: "status", Reason: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("read contract: %w", ledger.ErrNotRegistered), http.StatusNotFound},
		{&ledger.SimulationError{Err: ledger.ErrNoResult}, http.StatusBadGateway},
		{identity.ErrInvalidIdentity, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		assert.Equal(t, test.status, statusFor(test.err), "%v", test.err)
	}
}

func TestWriteFailureHidesInternalErrors(t *testing.T) {
	s := newBareServer()
	rec := httptest.NewRecorder()
	s.writeFailure(rec, errors.New("connection refused"), "Error getting certificate")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Error getting certificate", body.Error)

	rec = httptest.NewRecorder()
	s.writeFailure(
		rec,
		&lifecycle.Error{Kind: lifecycle.KindLedger, Message: "Transaction failed: tx_bad_seq"},
		"Error signing and submitting transaction",
	)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Transaction failed: tx_bad_seq", body.Error)

	// Lifecycle errors without a client message do not expose the cause
	rec = httptest.NewRecorder()
	s.writeFailure(
		rec,
		&lifecycle.Error{
			Kind:  lifecycle.KindInternal,
			Stage: lifecycle.StageLoad,
			Err:   errors.New("pq: relation \"certificates\" does not exist"),
		},
		"Error getting certificate",
	)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Error getting certificate", body.Error)
}
