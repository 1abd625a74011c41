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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/wrever/certix/database/plugin"
	"github.com/wrever/certix/internal/config"
	"github.com/wrever/certix/internal/version"
	"github.com/wrever/certix/ledger/stellar"
)

const (
	programName = "certix"

	// Passing this as a plugin name prints the available plugins
	listPluginsArg = "list"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func commonRun() *slog.Logger {
	return setupLogger(os.Stdout)
}

// setupLogger configures the default logger. One-shot commands log to stderr
// so their output on stdout stays machine readable.
func setupLogger(out io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if globalFlags.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(
		slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource: globalFlags.debug,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Match GOMAXPROCS to the container CPU quota
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		logger.Error(
			"failed to set GOMAXPROCS",
			"component", programName,
			"error", err,
		)
		os.Exit(1)
	}
	logger.Info(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

// writePlugins appends one line per registered plugin of a type
func writePlugins(buf *strings.Builder, title string, pluginType plugin.PluginType) {
	buf.WriteString(title + "\n")
	for _, p := range plugin.GetPlugins(pluginType) {
		fmt.Fprintf(buf, "  %s: %s\n", p.Name, p.Description)
	}
}

// listPlugins renders the plugin listing requested by passing "list" as the
// blob or metadata plugin name
func listPlugins(
	blobPlugin, metadataPlugin string,
) (shouldExit bool, output string) {
	var buf strings.Builder
	if blobPlugin == listPluginsArg {
		writePlugins(&buf, "Available blob plugins:", plugin.PluginTypeBlob)
	}
	if metadataPlugin == listPluginsArg {
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		writePlugins(&buf, "Available metadata plugins:", plugin.PluginTypeMetadata)
	}
	return buf.Len() > 0, buf.String()
}

func listAllPlugins() string {
	var buf strings.Builder
	buf.WriteString("Available plugins:\n\n")
	writePlugins(&buf, "Blob Storage Plugins:", plugin.PluginTypeBlob)
	buf.WriteString("\n")
	writePlugins(&buf, "Metadata Storage Plugins:", plugin.PluginTypeMetadata)
	return buf.String()
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	flags.StringVar(&configFile, "config", "", "path to config file (default ~/.certix/certix.yaml)")
	flags.StringP("blob", "b", config.DefaultBlobPlugin, "document store plugin, 'list' to show available")
	flags.StringP("metadata", "m", config.DefaultMetadataPlugin, "certificate registry plugin, 'list' to show available")
	flags.String("network", stellar.NetworkTestnet, "Stellar network (testnet or mainnet)")
	flags.String("contract-id", "", "registry contract id (C...)")
	flags.String("admin", "", "administrator account (G...) allowed to decide")
	flags.Uint("api-port", 3000, "API listen port")
}

// applyFlags overrides config values with the flags set on the command line
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	stringFlag := func(name string, dest *string) {
		if err == nil && flags.Changed(name) {
			*dest, err = flags.GetString(name)
		}
	}
	stringFlag("blob", &cfg.BlobPlugin)
	stringFlag("metadata", &cfg.MetadataPlugin)
	stringFlag("network", &cfg.Network)
	stringFlag("contract-id", &cfg.ContractID)
	stringFlag("admin", &cfg.AdminIdentity)
	if err == nil && flags.Changed("api-port") {
		cfg.APIPort, err = flags.GetUint("api-port")
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the blob and metadata store plugins",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(listAllPlugins())
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the program version",
		// Skip config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", programName, version.GetVersionString())
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Certificate registry backed by the Stellar ledger",
		Long: programName + " stores certificate documents, anchors their SHA-256 " +
			"digest on Stellar and records validator decisions in a Soroban " +
			"registry contract. Without a subcommand it runs the API.",
		Run: serveCommand().Run,
	}

	flags := rootCmd.PersistentFlags()
	addGlobalFlags(flags)
	// Add plugin-specific flags
	if err := plugin.PopulateCmdlineOptions(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error adding plugin flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Handle plugin listing before config loading
		blobPlugin, _ := flags.GetString("blob")
		metadataPlugin, _ := flags.GetString("metadata")
		if shouldExit, output := listPlugins(blobPlugin, metadataPlugin); shouldExit {
			fmt.Print(output)
			os.Exit(0)
		}

		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyFlags(flags, cfg); err != nil {
			return fmt.Errorf("invalid command line: %w", err)
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(
		serveCommand(),
		verifyCommand(),
		reconcileCommand(),
		listCommand(),
		versionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
