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
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/lifecycle"
	"github.com/wrever/certix/verifier"
)

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type UploadResponse struct {
	*lifecycle.UploadResult

	Success bool `json:"success"`
}

type RegisterResponse struct {
	*lifecycle.RegisterResult

	Message string `json:"message"`
	Success bool   `json:"success"`
}

type CertificateResponse struct {
	Certificate *models.Certificate `json:"certificate"`
	Success     bool                `json:"success"`
}

// CertificateListResponse is returned by the list routes. Stats is only set
// for an owner's certificates.
type CertificateListResponse struct {
	Stats        *models.Stats        `json:"stats,omitempty"`
	Certificates []models.Certificate `json:"certificates"`
	Success      bool                 `json:"success"`
}

type VerifyResponse struct {
	*verifier.Result

	Success bool `json:"success"`
}

type ContractStatusResponse struct {
	*verifier.ContractStatus

	Success bool `json:"success"`
}

type PrepareDecisionResponse struct {
	*lifecycle.PreparedDecision

	Success bool `json:"success"`
}

type SubmitDecisionResponse struct {
	*lifecycle.DecisionResult

	Success bool `json:"success"`
}

// AdminCheckResponse is returned by GET /api/admin/check. AdminAddress is
// set when a single administrator is configured.
type AdminCheckResponse struct {
	AdminAddress string `json:"adminAddress,omitempty"`
	Wallet       string `json:"wallet"`
	IsAdmin      bool   `json:"isAdmin"`
	Success      bool   `json:"success"`
}

type ValidatorCheckResponse struct {
	Wallet      string `json:"wallet"`
	IsValidator bool   `json:"isValidator"`
	Success     bool   `json:"success"`
}

type ValidatorListResponse struct {
	Validators []string `json:"validators"`
	Total      int      `json:"total"`
	Success    bool     `json:"success"`
}
