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

// Package gormstore implements the certificate queries shared by the gorm
// based metadata stores
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wrever/certix/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Store runs certificate queries against a gorm database handle
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New configures tracing on db, creates the table schemas and returns a Store
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// Configure tracing for GORM
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	for _, model := range models.MigrateModels {
		logger.Debug(
			fmt.Sprintf("creating table: %T", model),
			"component", "database",
		)
		if err := db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return &Store{db: db, logger: logger}, nil
}

// DB returns the database handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.Close()
}

// Transaction runs fn in a database transaction
func (s *Store) Transaction(
	ctx context.Context,
	fn func(txn *gorm.DB) error,
) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn returns a fresh statement on txn, or on the store when txn is nil
func (s *Store) conn(ctx context.Context, txn *gorm.DB) *gorm.DB {
	if txn == nil {
		return s.db.WithContext(ctx)
	}
	return txn.Session(&gorm.Session{NewDB: true, Context: ctx})
}

// inTxn runs fn in txn if set, otherwise in a new transaction
func (s *Store) inTxn(
	ctx context.Context,
	txn *gorm.DB,
	fn func(tx *gorm.DB) error,
) error {
	if txn != nil {
		return fn(s.conn(ctx, txn))
	}
	return s.Transaction(ctx, fn)
}

// SetCertificate upserts a certificate and replaces its index rows
func (s *Store) SetCertificate(
	ctx context.Context,
	cert *models.Certificate,
	txn *gorm.DB,
) error {
	return s.inTxn(ctx, txn, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(cert)
		if result.Error != nil {
			return fmt.Errorf("upsert certificate: %w", result.Error)
		}
		if err := s.deleteIndexes(tx, cert.ID, nil); err != nil {
			return err
		}
		return s.addIndexes(tx, cert.ID, cert.IndexLists())
	})
}

// GetCertificate returns a certificate by id
func (s *Store) GetCertificate(
	ctx context.Context,
	id string,
	txn *gorm.DB,
) (*models.Certificate, error) {
	ret := &models.Certificate{}
	result := s.conn(ctx, txn).First(ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrCertificateNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetCertificatesByOwner returns an owner's certificates, newest first,
// optionally restricted to one status
func (s *Store) GetCertificatesByOwner(
	ctx context.Context,
	owner string,
	status *models.Status,
	txn *gorm.DB,
) ([]models.Certificate, error) {
	list := models.OwnerList(owner)
	if status != nil {
		list = models.OwnerStatusList(owner, *status)
	}
	return s.listCertificates(ctx, list, txn)
}

// GetCertificatesByStatus returns all certificates with a status, newest first
func (s *Store) GetCertificatesByStatus(
	ctx context.Context,
	status models.Status,
	txn *gorm.DB,
) ([]models.Certificate, error) {
	return s.listCertificates(ctx, models.StatusList(status), txn)
}

func (s *Store) listCertificates(
	ctx context.Context,
	list string,
	txn *gorm.DB,
) ([]models.Certificate, error) {
	var ret []models.Certificate
	db := s.conn(ctx, txn)
	sub := s.conn(ctx, txn).
		Model(&models.CertificateIndex{}).
		Select("cert_id").
		Where("index_list = ?", list)
	result := db.
		Where("id IN (?)", sub).
		Order("uploaded_at DESC").
		Order("id DESC").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf("list %s: %w", list, result.Error)
	}
	return ret, nil
}

// UpdateCertificateStatus moves a certificate from one status to the status
// set on cert. The update only applies while the stored status is still
// from; otherwise it fails with models.ErrStatusConflict.
func (s *Store) UpdateCertificateStatus(
	ctx context.Context,
	cert *models.Certificate,
	from models.Status,
	txn *gorm.DB,
) error {
	return s.inTxn(ctx, txn, func(tx *gorm.DB) error {
		result := tx.Model(&models.Certificate{}).
			Where("id = ? AND status = ?", cert.ID, from).
			Updates(map[string]any{
				"status":             cert.Status,
				"validator_identity": cert.ValidatorIdentity,
				"decided_at":         cert.DecidedAt,
				"rejection_reason":   cert.RejectionReason,
			})
		if result.Error != nil {
			return fmt.Errorf("update certificate status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			if err := s.exists(ctx, tx, cert.ID); err != nil {
				return err
			}
			return models.ErrStatusConflict
		}
		old := []string{
			models.OwnerStatusList(cert.OwnerIdentity, from),
			models.StatusList(from),
		}
		if err := s.deleteIndexes(s.conn(ctx, tx), cert.ID, old); err != nil {
			return err
		}
		return s.addIndexes(s.conn(ctx, tx), cert.ID, cert.IndexLists())
	})
}

// SetCertificateVerified updates the derived verification fields
func (s *Store) SetCertificateVerified(
	ctx context.Context,
	id string,
	verified bool,
	verifiedAt *time.Time,
	txn *gorm.DB,
) error {
	result := s.conn(ctx, txn).
		Model(&models.Certificate{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verified":    verified,
			"verified_at": verifiedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update certificate verification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the values were already set
		return s.exists(ctx, txn, id)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, txn *gorm.DB, id string) error {
	var count int64
	if err := s.conn(ctx, txn).
		Model(&models.Certificate{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return models.ErrCertificateNotFound
	}
	return nil
}

// deleteIndexes removes a certificate from the given lists, or from every
// list when lists is nil
func (s *Store) deleteIndexes(tx *gorm.DB, certID string, lists []string) error {
	q := tx.Where("cert_id = ?", certID)
	if lists != nil {
		q = q.Where("index_list IN ?", lists)
	}
	if result := q.Delete(&models.CertificateIndex{}); result.Error != nil {
		return fmt.Errorf("delete certificate index: %w", result.Error)
	}
	return nil
}

func (s *Store) addIndexes(tx *gorm.DB, certID string, lists []string) error {
	rows := make([]models.CertificateIndex, 0, len(lists))
	for _, list := range lists {
		rows = append(rows, models.CertificateIndex{List: list, CertID: certID})
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("add certificate index: %w", result.Error)
	}
	return nil
}
