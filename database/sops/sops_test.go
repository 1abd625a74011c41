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

package sops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEncrypted(t *testing.T) {
	assert.False(t, IsEncrypted([]byte("SABCDEF")))
	assert.True(t, IsEncrypted([]byte("secret: ENC[AES256_GCM,data:abc]\nsops:\n  version: 3.11.0\n")))
	assert.True(t, IsEncrypted([]byte(`{"data":"ENC[...]","sops":{}}`)))
}

func TestDecryptFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.key")
	require.NoError(t, os.WriteFile(path, []byte("SPLAINSECRET\n"), 0o600))
	data, err := DecryptFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("SPLAINSECRET\n"), data)
}

func TestDecryptFileMissing(t *testing.T) {
	_, err := DecryptFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, "yaml", formatForPath("key.YAML"))
	assert.Equal(t, "json", formatForPath("/etc/certix/key.json"))
	assert.Equal(t, "dotenv", formatForPath("key.env"))
	assert.Equal(t, "binary", formatForPath("key"))
}

func TestEncryptWithoutKeys(t *testing.T) {
	t.Setenv(EnvGcpKmsResourceID, "")
	t.Setenv(EnvAwsKmsKeyArns, "")
	assert.False(t, MasterKeysConfigured())
	_, err := Encrypt([]byte("payload"))
	assert.ErrorIs(t, err, ErrNoMasterKeys)
}
