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

package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/stellar/go/xdr"

	"github.com/wrever/certix/ledger"
)

// Soroban RPC transaction statuses
const (
	sendStatusPending       = "PENDING"
	sendStatusDuplicate     = "DUPLICATE"
	sendStatusTryAgainLater = "TRY_AGAIN_LATER"
	sendStatusError         = "ERROR"

	txStatusSuccess  = "SUCCESS"
	txStatusFailed   = "FAILED"
	txStatusNotFound = "NOT_FOUND"
)

// DefaultPollInterval is the delay between transaction status queries
const DefaultPollInterval = time.Second

type rpcRequest struct {
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Error   *rpcError       `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

type transactionParams struct {
	Transaction string `json:"transaction"`
}

type simulateResponse struct {
	Error           string `json:"error,omitempty"`
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
	Results         []struct {
		XDR  string   `json:"xdr"`
		Auth []string `json:"auth"`
	} `json:"results"`
	LatestLedger uint32 `json:"latestLedger"`
}

type sendResponse struct {
	Status         string `json:"status"`
	Hash           string `json:"hash"`
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
	LatestLedger   uint32 `json:"latestLedger"`
}

type hashParams struct {
	Hash string `json:"hash"`
}

type getTransactionResponse struct {
	Status       string `json:"status"`
	ResultXDR    string `json:"resultXdr,omitempty"`
	Ledger       uint32 `json:"ledger,omitempty"`
	LatestLedger uint32 `json:"latestLedger"`
}

var (
	errRPC       = errors.New("soroban rpc error")
	rpcRequestID atomic.Uint64
)

func (n *Network) rpcCall(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      rpcRequestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: HTTP %d: %s", method, errRPC, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w: %w", method, errRPC, rpcResp.Error)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (n *Network) Simulate(ctx context.Context, txXDR string) (*ledger.SimulationResult, error) {
	var resp simulateResponse
	if err := n.rpcCall(ctx, "simulateTransaction", transactionParams{Transaction: txXDR}, &resp); err != nil {
		return nil, err
	}
	ret := &ledger.SimulationResult{
		Error:        resp.Error,
		LatestLedger: resp.LatestLedger,
	}
	if resp.Error != "" {
		return ret, nil
	}
	if resp.TransactionData != "" {
		if err := xdr.SafeUnmarshalBase64(resp.TransactionData, &ret.TransactionData); err != nil {
			return nil, fmt.Errorf("decode transaction data: %w", err)
		}
	}
	if resp.MinResourceFee != "" {
		fee, err := strconv.ParseInt(resp.MinResourceFee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode resource fee: %w", err)
		}
		ret.MinResourceFee = fee
	}
	if len(resp.Results) > 0 {
		result := resp.Results[0]
		for _, auth := range result.Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(auth, &entry); err != nil {
				return nil, fmt.Errorf("decode auth entry: %w", err)
			}
			ret.Auth = append(ret.Auth, entry)
		}
		if result.XDR != "" {
			var sv xdr.ScVal
			if err := xdr.SafeUnmarshalBase64(result.XDR, &sv); err != nil {
				return nil, fmt.Errorf("decode return value: %w", err)
			}
			ret.ReturnValue = &sv
		}
	}
	return ret, nil
}

// SubmitContract sends a signed invocation and waits until the ledger has
// applied it. The wait ends with ctx.
func (n *Network) SubmitContract(ctx context.Context, txXDR string) (string, error) {
	var resp sendResponse
	if err := n.rpcCall(ctx, "sendTransaction", transactionParams{Transaction: txXDR}, &resp); err != nil {
		return "", &ledger.SubmitError{Err: err, Message: err.Error()}
	}
	switch resp.Status {
	case sendStatusPending, sendStatusDuplicate:
		n.logger.Debug(
			"submitted contract invocation",
			"component", "ledger",
			"tx_hash", resp.Hash,
			"status", resp.Status,
		)
		if err := n.awaitTransaction(ctx, resp.Hash); err != nil {
			return "", err
		}
		return resp.Hash, nil
	case sendStatusError:
		ret := &ledger.SubmitError{Message: "transaction rejected"}
		if resp.ErrorResultXDR != "" {
			if codes, err := resultCodes(resp.ErrorResultXDR); err == nil {
				ret.Codes = codes
			} else {
				ret.Message = "transaction rejected: " + resp.ErrorResultXDR
			}
		}
		return "", ret
	case sendStatusTryAgainLater:
		return "", &ledger.SubmitError{Message: "network busy, try again later", Codes: []string{resp.Status}}
	default:
		return "", &ledger.SubmitError{Message: "unexpected submission status " + resp.Status}
	}
}

// awaitTransaction polls getTransaction until the transaction is applied
func (n *Network) awaitTransaction(ctx context.Context, hash string) error {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		var resp getTransactionResponse
		err := n.rpcCall(ctx, "getTransaction", hashParams{Hash: hash}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return notConfirmed(hash, ctx.Err())
			}
			return &ledger.SubmitError{Err: err, Message: err.Error()}
		}
		switch resp.Status {
		case txStatusSuccess:
			n.logger.Debug(
				"contract invocation applied",
				"component", "ledger",
				"tx_hash", hash,
				"ledger", resp.Ledger,
			)
			return nil
		case txStatusFailed:
			ret := &ledger.SubmitError{Message: "transaction failed"}
			if resp.ResultXDR != "" {
				if codes, err := resultCodes(resp.ResultXDR); err == nil {
					ret.Codes = codes
				}
			}
			return ret
		case txStatusNotFound:
		default:
			return &ledger.SubmitError{Message: "unexpected transaction status " + resp.Status}
		}
		select {
		case <-ctx.Done():
			return notConfirmed(hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func notConfirmed(hash string, err error) error {
	return &ledger.SubmitError{
		Err:     err,
		Message: fmt.Sprintf("transaction %s was not confirmed: %s", hash, err),
	}
}

// resultCodes decodes the transaction and operation result codes of a
// base64 TransactionResult
func resultCodes(resultXDR string) ([]string, error) {
	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &result); err != nil {
		return nil, err
	}
	ret := []string{result.Result.Code.String()}
	if opResults, ok := result.OperationResults(); ok {
		for _, op := range opResults {
			if tr, ok := op.GetTr(); ok {
				if r, ok := tr.GetInvokeHostFunctionResult(); ok {
					ret = append(ret, r.Code.String())
				}
			}
		}
	}
	return ret, nil
}
