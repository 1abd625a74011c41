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
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/event"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/signer"
)

const (
	DefaultMaxFileSize int64 = 10 * 1024 * 1024
)

// DefaultContentTypes are the accepted upload content types
var DefaultContentTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/jpg",
}

// FilePolicy limits uploaded files
type FilePolicy struct {
	ContentTypes []string
	MaxSize      int64
}

func (p FilePolicy) withDefaults() FilePolicy {
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxFileSize
	}
	if len(p.ContentTypes) == 0 {
		p.ContentTypes = DefaultContentTypes
	}
	return p
}

func (p FilePolicy) allows(contentType string) bool {
	return slices.Contains(p.ContentTypes, contentType)
}

// Config holds the collaborators of an Orchestrator. Builder, Database and
// Authorizer are required. The contract id is the one configured on Builder.
// Signer signs contract registrations as the system identity; without one,
// registration fails with signer.ErrSignerUnavailable. Network names the
// ledger network for explorer links.
type Config struct {
	Builder      *ledger.Builder
	Database     *database.Database
	Authorizer   identity.Authorizer
	Signer       signer.Signer
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Network      string
	FilePolicy   FilePolicy
}

func (c *Config) validate() error {
	switch {
	case c.Builder == nil:
		return fmt.Errorf("lifecycle: builder is required")
	case c.Database == nil:
		return fmt.Errorf("lifecycle: database is required")
	case c.Authorizer == nil:
		return fmt.Errorf("lifecycle: authorizer is required")
	}
	return nil
}
