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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("verified")
	assert.Error(t, err)
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestIndexLists(t *testing.T) {
	cert := &Certificate{OwnerIdentity: "GOWNER", Status: StatusPending}
	assert.Equal(
		t,
		[]string{
			"user:GOWNER:certs",
			"user:GOWNER:status:pending",
			"status:pending",
		},
		cert.IndexLists(),
	)
}

func TestCountStats(t *testing.T) {
	certs := []Certificate{
		{Status: StatusPending},
		{Status: StatusApproved},
		{Status: StatusApproved},
		{Status: StatusRejected},
	}
	assert.Equal(
		t,
		Stats{Total: 4, Pending: 1, Approved: 2, Rejected: 1},
		CountStats(certs),
	)
	assert.Equal(t, Stats{}, CountStats(nil))
}

func TestCertificateJSONFieldNames(t *testing.T) {
	cert := Certificate{
		ID:            "id-1",
		OwnerIdentity: "GOWNER",
		Digest:        "abc",
		AnchorTxRef:   "def",
		Status:        StatusPending,
	}
	data, err := json.Marshal(cert)
	require.NoError(t, err)
	var tmp map[string]any
	require.NoError(t, json.Unmarshal(data, &tmp))
	assert.Equal(t, "GOWNER", tmp["walletAddress"])
	assert.Equal(t, "abc", tmp["hash"])
	assert.Equal(t, "def", tmp["txHash"])
	assert.Equal(t, false, tmp["isValid"])
	assert.NotContains(t, tmp, "contractId")
}
