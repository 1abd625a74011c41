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

package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrStatusConflict      = errors.New("certificate status changed concurrently")
)

// Status is the review status of a certificate
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Statuses lists every status in display order
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

// Valid returns true if the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that can no longer change
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	ret := Status(s)
	if !ret.Valid() {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return ret, nil
}

// Certificate is a document whose digest was anchored on the ledger and
// registered in the registry contract
type Certificate struct {
	UploadedAt        time.Time  `gorm:"index"                json:"uploadedAt"`
	DecidedAt         *time.Time `                            json:"validatedAt,omitempty"`
	VerifiedAt        *time.Time `                            json:"verifiedAt,omitempty"`
	ID                string     `gorm:"primaryKey;size:64"   json:"id"`
	OwnerIdentity     string     `gorm:"size:56;index"        json:"walletAddress"`
	Title             string     `                            json:"title"`
	Issuer            string     `                            json:"issuer,omitempty"`
	Digest            string     `gorm:"size:64;index"        json:"hash"`
	AnchorTxRef       string     `gorm:"size:64"              json:"txHash"`
	FileLocation      string     `                            json:"fileUrl"`
	Status            Status     `gorm:"size:16;index"        json:"status"`
	RegistryRef       string     `gorm:"size:56"              json:"contractId,omitempty"`
	ValidatorIdentity string     `gorm:"size:56"              json:"validatorWallet,omitempty"`
	RejectionReason   string     `                            json:"rejectionReason,omitempty"`
	Verified          bool       `                            json:"isValid"`
}

func (Certificate) TableName() string {
	return "certificate"
}

// CertificateIndex is one membership row of a certificate index list. The
// (list, cert_id) pair is unique, so a certificate appears at most once per
// list.
type CertificateIndex struct {
	List   string `gorm:"column:index_list;size:160;uniqueIndex:idx_certificate_index_list_cert,priority:1"`
	CertID string `gorm:"size:64;uniqueIndex:idx_certificate_index_list_cert,priority:2;index"`
	ID     uint   `gorm:"primarykey"`
}

func (CertificateIndex) TableName() string {
	return "certificate_index"
}

// OwnerList returns the index list of all certificates for an owner
func OwnerList(owner string) string {
	return "user:" + owner + ":certs"
}

// OwnerStatusList returns the index list of an owner's certificates with a
// given status
func OwnerStatusList(owner string, status Status) string {
	return "user:" + owner + ":status:" + string(status)
}

// StatusList returns the global index list for a status
func StatusList(status Status) string {
	return "status:" + string(status)
}

// IndexLists returns every index list a certificate belongs to
func (c *Certificate) IndexLists() []string {
	return []string{
		OwnerList(c.OwnerIdentity),
		OwnerStatusList(c.OwnerIdentity, c.Status),
		StatusList(c.Status),
	}
}

// Stats are per-owner certificate counts
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// CountStats counts certificates by status
func CountStats(certs []Certificate) Stats {
	ret := Stats{Total: len(certs)}
	for _, cert := range certs {
		switch cert.Status {
		case StatusPending:
			ret.Pending++
		case StatusApproved:
			ret.Approved++
		case StatusRejected:
			ret.Rejected++
		}
	}
	return ret
}
