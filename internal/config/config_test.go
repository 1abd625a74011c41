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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wrever/certix/database/plugin"

	// Register the plugin configured by the tests
	_ "github.com/wrever/certix/database/plugin/blob/badger"
)

func resetGlobalConfig() {
	globalConfig = defaultConfig()
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "certix.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpFile
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
bindAddr: "127.0.0.1"
databasePath: "/var/lib/certix"
network: "mainnet"
horizonUrl: "https://horizon.example.com"
rpcUrl: "https://rpc.example.com"
contractId: "CABC"
adminIdentity: "GADMIN"
authPolicy: "validators"
validators:
  - "GVAL1"
  - "GVAL2"
systemKeyFile: "/etc/certix/system.key"
apiPort: 8080
metricsPort: 9100
maxFileSize: 1048576
reconcileWorkers: 8
contractCacheSize: 500
callTimeout: "10s"
shutdownTimeout: "5s"
tracing: true
`)

	expected := &Config{
		BindAddr:          "127.0.0.1",
		DatabasePath:      "/var/lib/certix",
		Network:           "mainnet",
		HorizonURL:        "https://horizon.example.com",
		RPCURL:            "https://rpc.example.com",
		ContractID:        "CABC",
		AdminIdentity:     "GADMIN",
		AuthPolicy:        "validators",
		Validators:        []string{"GVAL1", "GVAL2"},
		SystemKeyFile:     "/etc/certix/system.key",
		APIPort:           8080,
		MetricsPort:       9100,
		BlobPlugin:        DefaultBlobPlugin,
		MetadataPlugin:    DefaultMetadataPlugin,
		ShutdownTimeout:   "5s",
		CallTimeout:       "10s",
		MaxFileSize:       1048576,
		ReconcileWorkers:  8,
		ContractCacheSize: 500,
		Tracing:           true,
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"Loaded config does not match expected.\nActual: %+v\nExpected: %+v",
			actual,
			expected,
		)
	}
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()
	// Keep a config file in the real home directory out of the test
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !reflect.DeepEqual(cfg, defaultConfig()) {
		t.Errorf(
			"config mismatch without file:\nExpected: %+v\nGot:      %+v",
			defaultConfig(),
			cfg,
		)
	}
}

func TestLoad_ConfigSection(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
config:
  network: "TESTNET"
  contractId: "CSECTION"
database:
  blob:
    plugin: "badger"
    badger:
      data-dir: "/tmp/certix-blob"
`)

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Errorf("expected network to be normalized to testnet, got: %s", cfg.Network)
	}
	if cfg.ContractID != "CSECTION" {
		t.Errorf("expected contract id from config section, got: %s", cfg.ContractID)
	}
	if cfg.APIPort != 3000 || cfg.MetadataPlugin != DefaultMetadataPlugin {
		t.Errorf("expected defaults outside the config section, got: %+v", cfg)
	}
	if cfg.BlobPlugin != "badger" {
		t.Errorf("expected blob plugin badger, got: %s", cfg.BlobPlugin)
	}
	// Reset the plugin option for other tests
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, "badger", "data-dir", ""); err != nil {
		t.Fatalf("failed to reset plugin option: %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
contractId: "CFILE"
apiPort: 8080
`)
	t.Setenv("CERTIX_CONTRACT_ID", "CENV")
	t.Setenv("CERTIX_API_PORT", "9000")
	t.Setenv("CERTIX_VALIDATORS", "GVAL1,GVAL2")
	t.Setenv("CERTIX_DATABASE_METADATA_PLUGIN", "postgres")

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.ContractID != "CENV" {
		t.Errorf("expected contract id from environment, got: %s", cfg.ContractID)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("expected API port from environment, got: %d", cfg.APIPort)
	}
	if !reflect.DeepEqual(cfg.Validators, []string{"GVAL1", "GVAL2"}) {
		t.Errorf("unexpected validators: %v", cfg.Validators)
	}
	if cfg.MetadataPlugin != "postgres" {
		t.Errorf("expected metadata plugin from environment, got: %s", cfg.MetadataPlugin)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	for _, content := range []string{
		`network: "futurenet-x"`,
		`authPolicy: "everyone"`,
		`apiPort: "not a number"`,
	} {
		resetGlobalConfig()
		tmpFile := writeConfigFile(t, content)
		if _, err := LoadConfig(tmpFile); err == nil {
			t.Errorf("expected error for config %q", content)
		}
	}
}

func TestConfigContext(t *testing.T) {
	if FromContext(t.Context()) != nil {
		t.Fatal("expected no config in empty context")
	}
	cfg := defaultConfig()
	ctx := WithContext(t.Context(), cfg)
	if FromContext(ctx) != cfg {
		t.Fatal("expected config from context")
	}
}
