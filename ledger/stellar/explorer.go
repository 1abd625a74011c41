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

const explorerBaseURL = "https://stellar.expert/explorer/"

// ExplorerURL returns the public explorer page of a transaction. Mainnet
// pages have no network segment.
func ExplorerURL(networkName string, txHash string) string {
	switch networkName {
	case NetworkMainnet:
		return explorerBaseURL + "tx/" + txHash
	case "":
		networkName = NetworkTestnet
	}
	return explorerBaseURL + networkName + "/tx/" + txHash
}
