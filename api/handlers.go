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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/lifecycle"
)

const msgInvalidBody = "Invalid request body"

// handleHealth handles GET /api/health
func (s *Server) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
		Version: s.config.Version,
	})
}

// handleUpload handles POST /api/certificate/upload. The form carries the
// document as "file" plus walletAddress, title and issuer.
func (s *Server) handleUpload(
	w http.ResponseWriter,
	r *http.Request,
) {
	maxSize := s.config.Orchestrator.FilePolicy().MaxSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(
				w,
				http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File size must be less than %dMB", maxSize/(1024*1024)),
			)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	req := lifecycle.UploadRequest{
		Owner:  r.FormValue("walletAddress"),
		Title:  r.FormValue("title"),
		Issuer: r.FormValue("issuer"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Reported by the orchestrator
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	default:
		defer file.Close()
		req.FileName = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
		req.Data, err = io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
	}
	res, err := s.config.Orchestrator.Upload(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err, "Error uploading certificate")
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{
		UploadResult: res,
		Success:      true,
	})
}

// handleSign handles POST /api/certificate/upload/sign
func (s *Server) handleSign(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req lifecycle.RegisterRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	res, err := s.config.Orchestrator.SignAndRegister(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err, "Error signing and submitting transaction")
		return
	}
	writeJSON(w, http.StatusOK, RegisterResponse{
		RegisterResult: res,
		Message:        "Transaction signed and submitted successfully",
		Success:        true,
	})
}

// handleGetCertificate handles GET /api/certificate/{id}
func (s *Server) handleGetCertificate(
	w http.ResponseWriter,
	r *http.Request,
) {
	cert, err := s.config.Database.GetCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err, "Error getting certificate")
		return
	}
	writeJSON(w, http.StatusOK, CertificateResponse{
		Certificate: cert,
		Success:     true,
	})
}

// handleCertificateView handles GET /api/certificate/{id}/{view}. The only
// view is the contract status.
func (s *Server) handleCertificateView(
	w http.ResponseWriter,
	r *http.Request,
) {
	if r.PathValue("view") != "contract" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	status, err := s.config.Verifier.ContractStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err, "Error checking contract")
		return
	}
	writeJSON(w, http.StatusOK, ContractStatusResponse{
		ContractStatus: status,
		Success:        true,
	})
}

// handleVerify handles GET /api/certificate/verify/{id}
func (s *Server) handleVerify(
	w http.ResponseWriter,
	r *http.Request,
) {
	res, err := s.config.Verifier.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err, "Error verifying certificate")
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Result:  res,
		Success: true,
	})
}

// handleUserCertificates handles GET /api/certificate/user/{wallet}. The
// owner's certificates are reconciled with the contract before counting, and
// the optional status filter only applies to the returned list.
func (s *Server) handleUserCertificates(
	w http.ResponseWriter,
	r *http.Request,
) {
	wallet := r.PathValue("wallet")
	if !identity.IsValid(wallet) {
		writeError(w, http.StatusBadRequest, "Invalid Stellar wallet address")
		return
	}
	var filter *models.Status
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter = &status
	}
	certs, err := s.config.Database.ListByOwner(r.Context(), wallet, nil)
	if err != nil {
		s.writeFailure(w, err, "Error getting certificates")
		return
	}
	certs = s.config.Verifier.Reconcile(r.Context(), certs)
	stats := models.CountStats(certs)
	ret := make([]models.Certificate, 0, len(certs))
	for _, cert := range certs {
		if filter == nil || cert.Status == *filter {
			ret = append(ret, cert)
		}
	}
	writeJSON(w, http.StatusOK, CertificateListResponse{
		Stats:        &stats,
		Certificates: ret,
		Success:      true,
	})
}

// handlePending handles GET /api/certificate/pending
func (s *Server) handlePending(
	w http.ResponseWriter,
	r *http.Request,
) {
	certs, err := s.config.Database.ListByStatus(r.Context(), models.StatusPending)
	if err != nil {
		s.writeFailure(w, err, "Error getting pending certificates")
		return
	}
	if certs == nil {
		certs = []models.Certificate{}
	}
	writeJSON(w, http.StatusOK, CertificateListResponse{
		Certificates: certs,
		Success:      true,
	})
}

// handlePrepareDecision handles POST /api/certificate/{id}/status/prepare
func (s *Server) handlePrepareDecision(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req lifecycle.DecisionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.CertificateID = r.PathValue("id")
	res, err := s.config.Orchestrator.PrepareDecision(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err, "Error preparing transaction")
		return
	}
	writeJSON(w, http.StatusOK, PrepareDecisionResponse{
		PreparedDecision: res,
		Success:          true,
	})
}

// handleSubmitDecision handles POST /api/certificate/{id}/status/submit
func (s *Server) handleSubmitDecision(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req lifecycle.SubmitDecisionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.CertificateID = r.PathValue("id")
	res, err := s.config.Orchestrator.SubmitDecision(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err, "Error submitting transaction")
		return
	}
	writeJSON(w, http.StatusOK, SubmitDecisionResponse{
		DecisionResult: res,
		Success:        true,
	})
}

// handleAdminCheck handles GET /api/admin/check?wallet=
func (s *Server) handleAdminCheck(
	w http.ResponseWriter,
	r *http.Request,
) {
	query := r.URL.Query()
	wallet := query.Get("wallet")
	if wallet == "" {
		wallet = query.Get("address")
	}
	if !identity.IsValid(wallet) {
		writeError(w, http.StatusBadRequest, "Valid Stellar wallet address is required")
		return
	}
	auth := s.config.Orchestrator.Authorizer()
	resp := AdminCheckResponse{
		Wallet:  wallet,
		IsAdmin: auth.CanDecide(wallet),
		Success: true,
	}
	if admin, ok := auth.(interface{ Admin() string }); ok {
		resp.AdminAddress = admin.Admin()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleValidatorCheck handles GET /api/validators/check/{wallet}
func (s *Server) handleValidatorCheck(
	w http.ResponseWriter,
	r *http.Request,
) {
	wallet := r.PathValue("wallet")
	if !identity.IsValid(wallet) {
		writeError(w, http.StatusBadRequest, "Invalid Stellar wallet address")
		return
	}
	writeJSON(w, http.StatusOK, ValidatorCheckResponse{
		Wallet:      wallet,
		IsValidator: s.config.Orchestrator.Authorizer().CanDecide(wallet),
		Success:     true,
	})
}

// handleValidatorList handles GET /api/validators/list
func (s *Server) handleValidatorList(
	w http.ResponseWriter,
	_ *http.Request,
) {
	validators := []string{}
	if lister, ok := s.config.Orchestrator.Authorizer().(identity.Lister); ok {
		validators = append(validators, lister.List()...)
	}
	writeJSON(w, http.StatusOK, ValidatorListResponse{
		Validators: validators,
		Total:      len(validators),
		Success:    true,
	})
}

// handleFile handles GET /files/{key} and serves an uploaded document from
// the blob store
func (s *Server) handleFile(
	w http.ResponseWriter,
	r *http.Request,
) {
	data, contentType, err := s.config.Database.GetFile(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.logger.Error("failed to read file", "error", err)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
