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

package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/database/plugin"
	"gorm.io/gorm"
)

// MetadataStore persists certificate records and their index lists. Methods
// taking a *gorm.DB run in that transaction when it is non-nil.
type MetadataStore interface {
	plugin.Plugin

	// Database
	Close() error
	DB() *gorm.DB
	Transaction(context.Context, func(*gorm.DB) error) error

	// Certificates
	SetCertificate(context.Context, *models.Certificate, *gorm.DB) error
	GetCertificate(
		context.Context,
		string, // id
		*gorm.DB,
	) (*models.Certificate, error)
	GetCertificatesByOwner(
		context.Context,
		string, // owner
		*models.Status, // optional status filter
		*gorm.DB,
	) ([]models.Certificate, error)
	GetCertificatesByStatus(
		context.Context,
		models.Status,
		*gorm.DB,
	) ([]models.Certificate, error)
	UpdateCertificateStatus(
		context.Context,
		*models.Certificate,
		models.Status, // expected current status
		*gorm.DB,
	) error
	SetCertificateVerified(
		context.Context,
		string, // id
		bool,
		*time.Time,
		*gorm.DB,
	) error
}

// New returns the started metadata plugin selected by name
func New(
	pluginName string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	p, err := plugin.StartPlugin(
		plugin.PluginTypeMetadata,
		pluginName,
		logger,
		promRegistry,
	)
	if err != nil {
		return nil, err
	}
	store, ok := p.(MetadataStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return store, nil
}
