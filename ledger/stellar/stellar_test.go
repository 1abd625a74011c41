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

package stellar_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrever/certix/ledger"
	"github.com/wrever/certix/ledger/stellar"
)

const testHash = "3389e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"

func b64(t *testing.T, v any) string {
	t.Helper()
	s, err := xdr.MarshalBase64(v)
	require.NoError(t, err)
	return s
}

type testRPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type rpcHandler func(method string, params json.RawMessage) (any, *testRPCError)

func newTestServer(t *testing.T, account string, rpc rpcHandler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != account {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"type":"https://stellar.org/horizon-errors/not_found","title":"Resource Missing","status":404,"detail":"account not found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         account,
			"account_id": account,
			"sequence":   "4294967300",
		})
	})
	mux.HandleFunc("GET /transactions/{hash}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("hash") != testHash {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"type":"https://stellar.org/horizon-errors/not_found","title":"Resource Missing","status":404,"detail":"not found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             testHash,
			"hash":           testHash,
			"successful":     true,
			"source_account": account,
			"ledger":         42,
			"memo_type":      "text",
			"memo":           "3389e9f0f1a65f19736cacf544c2",
		})
	})
	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("tx") == "bad" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"type":"https://stellar.org/horizon-errors/transaction_failed","title":"Transaction Failed","status":400,"detail":"The transaction failed when submitted to the stellar network.","extras":{"result_codes":{"transaction":"tx_bad_seq"}}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         testHash,
			"hash":       testHash,
			"successful": true,
		})
	})
	mux.HandleFunc("POST /rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params json.RawMessage `json:"params"`
			Method string          `json:"method"`
			ID     uint64          `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := rpc(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestNetwork(server *httptest.Server) *stellar.Network {
	return stellar.New(
		stellar.WithHorizonURL(server.URL+"/"),
		stellar.WithRPCURL(server.URL+"/rpc"),
		stellar.WithHTTPClient(server.Client()),
	)
}

func TestPassphrase(t *testing.T) {
	p, err := stellar.Passphrase("testnet")
	require.NoError(t, err)
	assert.Equal(t, network.TestNetworkPassphrase, p)
	p, err = stellar.Passphrase("mainnet")
	require.NoError(t, err)
	assert.Equal(t, network.PublicNetworkPassphrase, p)
	_, err = stellar.Passphrase("futurenet")
	assert.Error(t, err)
}

func TestExplorerURL(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	assert.Equal(
		t,
		"https://stellar.expert/explorer/testnet/tx/"+hash,
		stellar.ExplorerURL(stellar.NetworkTestnet, hash),
	)
	assert.Equal(
		t,
		"https://stellar.expert/explorer/testnet/tx/"+hash,
		stellar.ExplorerURL("", hash),
	)
	assert.Equal(
		t,
		"https://stellar.expert/explorer/tx/"+hash,
		stellar.ExplorerURL(stellar.NetworkMainnet, hash),
	)
}

func TestHorizon(t *testing.T) {
	account := keypair.MustRandom().Address()
	server := newTestServer(t, account, nil)
	n := newTestNetwork(server)

	acct, err := n.LoadAccount(t.Context(), account)
	require.NoError(t, err)
	assert.Equal(t, int64(4294967300), acct.Sequence)
	_, err = n.LoadAccount(t.Context(), keypair.MustRandom().Address())
	assert.ErrorContains(t, err, "Resource Missing")

	tx, err := n.FetchTransaction(t.Context(), testHash)
	require.NoError(t, err)
	assert.Equal(t, "3389e9f0f1a65f19736cacf544c2", tx.Memo)
	assert.Equal(t, account, tx.SourceAccount)
	assert.True(t, tx.Successful)
	_, err = n.FetchTransaction(t.Context(), strings.Repeat("0", 64))
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	hash, err := n.SubmitClassic(t.Context(), "signed")
	require.NoError(t, err)
	assert.Equal(t, testHash, hash)
	_, err = n.SubmitClassic(t.Context(), "bad")
	var submitErr *ledger.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, []string{"tx_bad_seq"}, submitErr.Codes)
}

func TestSimulate(t *testing.T) {
	ret := xdr.ScVal{Type: xdr.ScValTypeScvBool}
	b := true
	ret.B = &b
	auth := xdr.SorobanAuthorizationEntry{
		Credentials: xdr.SorobanCredentials{
			Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount,
		},
		RootInvocation: xdr.SorobanAuthorizedInvocation{
			Function: xdr.SorobanAuthorizedFunction{
				Type: xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn,
				ContractFn: &xdr.InvokeContractArgs{
					ContractAddress: xdr.ScAddress{
						Type:       xdr.ScAddressTypeScAddressTypeContract,
						ContractId: &xdr.Hash{1},
					},
					FunctionName: "is_approved",
				},
			},
		},
	}
	data := xdr.SorobanTransactionData{ResourceFee: 0}
	server := newTestServer(t, "", func(method string, params json.RawMessage) (any, *testRPCError) {
		var p struct {
			Transaction string `json:"transaction"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		switch {
		case method != "simulateTransaction":
			return nil, &testRPCError{Code: -32601, Message: "method not found"}
		case p.Transaction == "failing":
			return map[string]any{
				"error":        `HostError: Error(WasmVm, InvalidAction) data:"Certificate not found"`,
				"latestLedger": 100,
			}, nil
		default:
			return map[string]any{
				"transactionData": b64(t, data),
				"minResourceFee":  "91234",
				"results": []map[string]any{
					{"xdr": b64(t, ret), "auth": []string{b64(t, auth)}},
				},
				"latestLedger": 100,
			}, nil
		}
	})
	n := newTestNetwork(server)

	sim, err := n.Simulate(t.Context(), "tx")
	require.NoError(t, err)
	assert.Empty(t, sim.Error)
	assert.Equal(t, int64(91234), sim.MinResourceFee)
	require.NotNil(t, sim.ReturnValue)
	assert.True(t, *sim.ReturnValue.B)
	require.Len(t, sim.Auth, 1)
	assert.Equal(t, uint32(100), sim.LatestLedger)

	sim, err = n.Simulate(t.Context(), "failing")
	require.NoError(t, err)
	assert.Contains(t, sim.Error, "Certificate not found")

	_, err = n.SubmitContract(t.Context(), "tx")
	var submitErr *ledger.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Contains(t, submitErr.Message, "method not found")
}

const (
	appliedHash = "a1b2e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"
	failedHash  = "f00de9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"
	pendingHash = "0000e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"
)

func TestSubmitContract(t *testing.T) {
	rejected := xdr.TransactionResult{
		FeeCharged: 100,
		Result: xdr.TransactionResultResult{
			Code: xdr.TransactionResultCodeTxBadSeq,
		},
	}
	trapped := xdr.TransactionResult{
		FeeCharged: 100,
		Result: xdr.TransactionResultResult{
			Code: xdr.TransactionResultCodeTxFailed,
			Results: &[]xdr.OperationResult{
				{
					Code: xdr.OperationResultCodeOpInner,
					Tr: &xdr.OperationResultTr{
						Type: xdr.OperationTypeInvokeHostFunction,
						InvokeHostFunctionResult: &xdr.InvokeHostFunctionResult{
							Code: xdr.InvokeHostFunctionResultCodeInvokeHostFunctionTrapped,
						},
					},
				},
			},
		},
	}
	var polls atomic.Int32
	server := newTestServer(t, "", func(method string, params json.RawMessage) (any, *testRPCError) {
		var p struct {
			Transaction string `json:"transaction"`
			Hash        string `json:"hash"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		switch method {
		case "sendTransaction":
			switch p.Transaction {
			case "rejected":
				return map[string]any{"status": "ERROR", "hash": testHash, "errorResultXdr": b64(t, rejected)}, nil
			case "busy":
				return map[string]any{"status": "TRY_AGAIN_LATER", "hash": testHash}, nil
			case "trapped":
				return map[string]any{"status": "PENDING", "hash": failedHash}, nil
			case "stuck":
				return map[string]any{"status": "PENDING", "hash": pendingHash}, nil
			default:
				return map[string]any{"status": "PENDING", "hash": appliedHash}, nil
			}
		case "getTransaction":
			switch p.Hash {
			case appliedHash:
				// Not ingested until the third query
				if polls.Add(1) < 3 {
					return map[string]any{"status": "NOT_FOUND", "latestLedger": 10}, nil
				}
				return map[string]any{"status": "SUCCESS", "ledger": 12, "latestLedger": 12}, nil
			case failedHash:
				return map[string]any{"status": "FAILED", "resultXdr": b64(t, trapped), "ledger": 12}, nil
			default:
				return map[string]any{"status": "NOT_FOUND", "latestLedger": 10}, nil
			}
		}
		return nil, &testRPCError{Message: "method not found", Code: -32601}
	})
	n := stellar.New(
		stellar.WithRPCURL(server.URL+"/rpc"),
		stellar.WithHTTPClient(server.Client()),
		stellar.WithPollInterval(10*time.Millisecond),
	)

	hash, err := n.SubmitContract(t.Context(), "signed")
	require.NoError(t, err)
	assert.Equal(t, appliedHash, hash)
	assert.Equal(t, int32(3), polls.Load())

	_, err = n.SubmitContract(t.Context(), "trapped")
	var submitErr *ledger.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(
		t,
		[]string{
			xdr.TransactionResultCodeTxFailed.String(),
			xdr.InvokeHostFunctionResultCodeInvokeHostFunctionTrapped.String(),
		},
		submitErr.Codes,
	)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = n.SubmitContract(ctx, "stuck")
	require.ErrorAs(t, err, &submitErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, submitErr.Message, pendingHash)

	_, err = n.SubmitContract(t.Context(), "rejected")
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, []string{xdr.TransactionResultCodeTxBadSeq.String()}, submitErr.Codes)

	_, err = n.SubmitContract(t.Context(), "busy")
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, []string{"TRY_AGAIN_LATER"}, submitErr.Codes)
}

func TestContextCancel(t *testing.T) {
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(block)
		server.Close()
	})
	n := newTestNetwork(server)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := n.LoadAccount(ctx, keypair.MustRandom().Address())
	assert.ErrorIs(t, err, context.Canceled)
}
