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
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/wrever/certix/database/plugin"
	"github.com/wrever/certix/identity"
	"github.com/wrever/certix/ledger/stellar"
)

type ctxKey string

const configContextKey ctxKey = "certix.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

type tempConfig struct {
	Config   yaml.Node                 `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// Config holds the node settings. SystemSecret is the secret seed of the
// system identity; prefer SystemKeyFile, which may be SOPS encrypted.
type Config struct {
	MetadataPlugin    string   `yaml:"metadataPlugin"    envconfig:"CERTIX_DATABASE_METADATA_PLUGIN"`
	BlobPlugin        string   `yaml:"blobPlugin"        envconfig:"CERTIX_DATABASE_BLOB_PLUGIN"`
	DatabasePath      string   `yaml:"databasePath"      split_words:"true"`
	BindAddr          string   `yaml:"bindAddr"          split_words:"true"`
	Network           string   `yaml:"network"`
	HorizonURL        string   `yaml:"horizonUrl"        envconfig:"HORIZON_URL"`
	RPCURL            string   `yaml:"rpcUrl"            envconfig:"RPC_URL"`
	ContractID        string   `yaml:"contractId"        split_words:"true"`
	AdminIdentity     string   `yaml:"adminIdentity"     split_words:"true"`
	AuthPolicy        string   `yaml:"authPolicy"        split_words:"true"`
	SystemSecret      string   `yaml:"systemSecret"      split_words:"true"`
	SystemKeyFile     string   `yaml:"systemKeyFile"     split_words:"true"`
	ShutdownTimeout   string   `yaml:"shutdownTimeout"   split_words:"true"`
	CallTimeout       string   `yaml:"callTimeout"       split_words:"true"`
	AnchorTimeout     string   `yaml:"anchorTimeout"     split_words:"true"`
	ContractTimeout   string   `yaml:"contractTimeout"   split_words:"true"`
	Validators        []string `yaml:"validators"`
	MaxFileSize       int64    `yaml:"maxFileSize"       split_words:"true"`
	ContractCacheSize int64    `yaml:"contractCacheSize" split_words:"true"`
	ReconcileWorkers  int      `yaml:"reconcileWorkers"  split_words:"true"`
	APIPort           uint     `yaml:"apiPort"           envconfig:"API_PORT"`
	MetricsPort       uint     `yaml:"metricsPort"       split_words:"true"`
	Tracing           bool     `yaml:"tracing"`
	TracingStdout     bool     `yaml:"tracingStdout"     split_words:"true"`
}

// Validate checks values LoadConfig cannot default
func (c *Config) Validate() error {
	if _, err := stellar.Passphrase(c.Network); err != nil {
		return err
	}
	switch c.AuthPolicy {
	case identity.PolicyAdmin, identity.PolicyValidators, "":
	default:
		return fmt.Errorf(
			"invalid authPolicy: %q (must be '%s' or '%s')",
			c.AuthPolicy,
			identity.PolicyAdmin,
			identity.PolicyValidators,
		)
	}
	return nil
}

var globalConfig = defaultConfig()

func defaultConfig() *Config {
	return &Config{
		BindAddr:          "0.0.0.0",
		DatabasePath:      ".certix",
		Network:           stellar.NetworkTestnet,
		AuthPolicy:        identity.PolicyAdmin,
		APIPort:           3000,
		MetricsPort:       12799,
		BlobPlugin:        DefaultBlobPlugin,
		MetadataPlugin:    DefaultMetadataPlugin,
		ShutdownTimeout:   DefaultShutdownTimeout,
		MaxFileSize:       10 * 1024 * 1024,
		ReconcileWorkers:  4,
		ContractCacheSize: 10000,
	}
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.certix/certix.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".certix", "certix.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/certix/certix.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/certix/certix.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		if err := loadConfigFile(configFile); err != nil {
			return nil, err
		}
	}
	// Process environment variables
	err := envconfig.Process("certix", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	globalConfig.Network = strings.ToLower(globalConfig.Network)
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func loadConfigFile(configFile string) error {
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	// First unmarshal into temp config to handle plugin sections
	var tempCfg tempConfig
	err = yaml.Unmarshal(buf, &tempCfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	// If config section exists, use it for main config. Decoding the node
	// directly keeps defaults for keys the section omits.
	if tempCfg.Config.Kind != 0 {
		if err := tempCfg.Config.Decode(globalConfig); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else {
		// Otherwise unmarshal the whole file as main config
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Process plugin configurations
	pluginConfig := make(map[string]map[string]map[string]any)
	if tempCfg.Blob != nil {
		pluginConfig["blob"] = tempCfg.Blob
	}
	if tempCfg.Metadata != nil {
		pluginConfig["metadata"] = tempCfg.Metadata
	}
	// Handle database section if present
	if tempCfg.Database != nil {
		if tempCfg.Database.Blob != nil {
			if name := extractPluginName(tempCfg.Database.Blob); name != "" {
				globalConfig.BlobPlugin = name
			}
			mergePluginConfig(pluginConfig, "blob", tempCfg.Database.Blob)
		}
		if tempCfg.Database.Metadata != nil {
			if name := extractPluginName(tempCfg.Database.Metadata); name != "" {
				globalConfig.MetadataPlugin = name
			}
			mergePluginConfig(pluginConfig, "metadata", tempCfg.Database.Metadata)
		}
	}
	if len(pluginConfig) > 0 {
		err = plugin.ProcessConfig(pluginConfig)
		if err != nil {
			return fmt.Errorf(
				"error processing plugin config: %w",
				err,
			)
		}
	}
	return nil
}

// extractPluginName removes and returns the "plugin" key of a database
// section
func extractPluginName(section map[string]any) string {
	pluginVal, exists := section["plugin"]
	if !exists {
		return ""
	}
	pluginName, ok := pluginVal.(string)
	if !ok {
		return ""
	}
	delete(section, "plugin")
	return pluginName
}

// mergePluginConfig adds the per-plugin maps of a database section to the
// plugin config of a type
func mergePluginConfig(
	pluginConfig map[string]map[string]map[string]any,
	typeName string,
	section map[string]any,
) {
	typeConfig := make(map[string]map[string]any)
	for k, v := range section {
		if val, ok := v.(map[string]any); ok {
			typeConfig[k] = val
		} else if val, ok := v.(map[any]any); ok {
			// Convert map[any]any to map[string]any
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			typeConfig[k] = stringAnyMap
		} else {
			// Log skipped non-map config entries
			fmt.Fprintf(os.Stderr, "warning: skipping %s config entry %q: expected map, got %T\n", typeName, k, v)
		}
	}
	// Merge with existing config instead of overwriting
	if pluginConfig[typeName] == nil {
		pluginConfig[typeName] = typeConfig
	} else {
		maps.Copy(pluginConfig[typeName], typeConfig)
	}
}

func GetConfig() *Config {
	return globalConfig
}
