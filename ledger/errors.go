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

package ledger

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyRegistered   = errors.New("certificate already registered in the smart contract")
	ErrAlreadyProcessed    = errors.New("certificate already processed in the smart contract")
	ErrNotRegistered       = errors.New("certificate not found in the smart contract")
	ErrNotSimulated        = errors.New("invocation has not been simulated")
	ErrNoContract          = errors.New("no contract id configured")
	ErrNoResult            = errors.New("no result from contract")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// SimulationError is a failed contract simulation. Payload is the host
// error reported by the network.
type SimulationError struct {
	Err     error
	Payload string
}

func (e *SimulationError) Error() string {
	if e.Err != nil {
		return e.Err.Error() + ": " + e.Payload
	}
	return "transaction simulation failed: " + e.Payload
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

// classifySimulation maps a contract host error payload to the registry
// error it represents
func classifySimulation(payload string) error {
	ret := &SimulationError{Payload: payload}
	switch {
	// Checked first, the contract reports a decided certificate as
	// "Certificate already processed"
	case strings.Contains(payload, "already processed"):
		ret.Err = ErrAlreadyProcessed
	case strings.Contains(payload, "already registered"),
		strings.Contains(payload, "Certificate already"):
		ret.Err = ErrAlreadyRegistered
	case strings.Contains(payload, "Certificate not found"):
		ret.Err = ErrNotRegistered
	}
	return ret
}

// SubmitError is a rejected transaction submission. Message is the reason
// reported by the network and Codes the ledger result codes, if any.
type SubmitError struct {
	Err     error
	Message string
	Codes   []string
}

func (e *SubmitError) Error() string {
	msg := "transaction submission failed: " + e.Message
	if len(e.Codes) > 0 {
		msg += " (" + strings.Join(e.Codes, ", ") + ")"
	}
	return msg
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func asSubmitError(err error) error {
	var submitErr *SubmitError
	if errors.As(err, &submitErr) {
		return err
	}
	return &SubmitError{Err: err, Message: err.Error()}
}
