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

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/signer"
)

// Kind classifies a lifecycle failure
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindLedger
	KindContract
	KindSigner
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLedger:
		return "ledger"
	case KindContract:
		return "contract"
	case KindSigner:
		return "signer"
	default:
		return "internal"
	}
}

// Stage is the step of a lifecycle operation that failed
type Stage string

const (
	StageValidate         Stage = "validate"
	StageAuthorize        Stage = "authorize"
	StageLoad             Stage = "load"
	StageFileStore        Stage = "file_store"
	StageAnchorBuild      Stage = "anchor_build"
	StageAnchorSubmit     Stage = "anchor_submit"
	StageContractRegister Stage = "contract_register"
	StagePersist          Stage = "persist"
	StageDecisionBuild    Stage = "decision_build"
	StageDecisionSubmit   Stage = "decision_submit"
)

// Error is returned by every Orchestrator operation. Message is suitable for
// API clients.
type Error struct {
	Err     error
	Message string
	Stage   Stage
	Kind    Kind
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Stage, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a lifecycle error, or KindInternal for any
// other error
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindInternal
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Stage: StageValidate, Message: msg}
}

// classify maps an error from the ledger, signer or registry to a kind
func classify(err error) Kind {
	var simErr *ledger.SimulationError
	var validationErr *database.ValidationError
	switch {
	case errors.Is(err, signer.ErrSignerUnavailable),
		errors.Is(err, signer.ErrSignerRejected):
		return KindSigner
	case errors.Is(err, identity.ErrInvalidIdentity),
		errors.As(err, &validationErr):
		return KindValidation
	case errors.Is(err, database.ErrNotFound):
		return KindNotFound
	case errors.Is(err, database.ErrAlreadyDecided),
		errors.Is(err, ledger.ErrAlreadyProcessed):
		return KindConflict
	case errors.Is(err, ledger.ErrAlreadyRegistered),
		errors.Is(err, ledger.ErrNotRegistered),
		errors.As(err, &simErr):
		return KindContract
	case errors.Is(err, ledger.ErrNoContract):
		return KindInternal
	default:
		return KindLedger
	}
}

func stageError(stage Stage, msg string, err error) *Error {
	return &Error{
		Kind:    classify(err),
		Stage:   stage,
		Message: msg,
		Err:     err,
	}
}
