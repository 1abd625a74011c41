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
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrever/certix/database/models"
	"github.com/wrever/certix/internal/config"
	"github.com/wrever/certix/internal/node"
)

func reconcileRun(ctx context.Context, owner string, cfg *config.Config) error {
	logger := setupLogger(os.Stderr)
	n, err := node.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
		}
	}()
	certs, stats, err := node.Reconcile(ctx, n, owner)
	if err != nil {
		return fmt.Errorf("reconcile certificates for %s: %w", owner, err)
	}
	return printJSON(struct {
		Stats        models.Stats         `json:"stats"`
		Certificates []models.Certificate `json:"certificates"`
	}{
		Stats:        stats,
		Certificates: certs,
	})
}

func reconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <wallet-address>",
		Short: "Sync a wallet's certificates with the registry contract",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			if err := reconcileRun(cmd.Context(), args[0], cfg); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	return cmd
}
