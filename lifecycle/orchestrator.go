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

// Package lifecycle drives a certificate from upload through anchoring and
// contract registration to the validator's decision.
//
// Each operation that needs a ledger signature is split in two: a prepare
// step returns an unsigned envelope, and a submit step accepts the envelope
// once the owner or validator has signed it. Nothing is persisted until the
// ledger has accepted the signed transaction.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wrever/certix/contract"
	"github.com/wrever/certix/database"
	"github.com/wrever/certix/digest"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/stellar"
	"github.com/wrever/certix/signer"
)

const tracerName = "github.com/wrever/certix/lifecycle"

type Orchestrator struct {
	logger     *slog.Logger
	builder    *ledger.Builder
	db         *database.Database
	authorizer identity.Authorizer
	signer     signer.Signer
	eventBus   *event.EventBus
	tracer     trace.Tracer
	metrics    lifecycleMetrics
	network    string
	filePolicy FilePolicy
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		logger:     cfg.Logger,
		builder:    cfg.Builder,
		db:         cfg.Database,
		authorizer: cfg.Authorizer,
		signer:     cfg.Signer,
		eventBus:   cfg.EventBus,
		tracer:     otel.Tracer(tracerName),
		network:    cfg.Network,
		filePolicy: cfg.FilePolicy.withDefaults(),
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	o.logger = o.logger.With("component", "lifecycle")
	if o.signer == nil {
		o.signer = signer.Unavailable{}
	}
	o.metrics.init(cfg.PromRegistry)
	return o, nil
}

// Authorizer returns the policy deciding who may approve or reject
func (o *Orchestrator) Authorizer() identity.Authorizer {
	return o.authorizer
}

// FilePolicy returns the upload limits in effect
func (o *Orchestrator) FilePolicy() FilePolicy {
	return o.filePolicy
}

// ExplorerURL returns the explorer page of a transaction on the configured
// network
func (o *Orchestrator) ExplorerURL(txHash string) string {
	return stellar.ExplorerURL(o.network, txHash)
}

func (o *Orchestrator) setState(certID string, state State) {
	o.logger.Debug(
		"certificate state changed",
		"certificate", certID,
		"state", state.String(),
	)
}

func (o *Orchestrator) publish(eventType event.EventType, data any) {
	if o.eventBus == nil {
		return
	}
	o.eventBus.PublishAsync(event.NewEvent(eventType, data))
}

func (o *Orchestrator) startSpan(
	ctx context.Context,
	name string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "lifecycle."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// register records a certificate on the registry contract, signed by the
// system identity, and returns the registration transaction hash
func (o *Orchestrator) register(
	ctx context.Context,
	certID string,
	owner string,
	d digest.Digest,
	anchorTxRef string,
) (string, error) {
	source := o.signer.PublicKey()
	if !identity.IsValid(source) {
		return "", fmt.Errorf("%w: no system identity configured", signer.ErrSignerUnavailable)
	}
	call, err := contract.RegisterCertificate(owner, d, anchorTxRef)
	if err != nil {
		return "", err
	}
	o.setState(certID, StateRegisteringOnContract)
	env, err := o.builder.BuildInvocation(ctx, source, call)
	if err != nil {
		return "", err
	}
	signed, err := o.signer.Sign(ctx, env)
	if err != nil {
		return "", err
	}
	return o.builder.SubmitInvocation(ctx, signed)
}
