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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrever/certix"
	"github.com/wrever/certix/internal/config"
	"github.com/wrever/certix/internal/version"
)

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	ret, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return ret, nil
}

// Options maps the loaded configuration to node options. The API listener
// is bound to BindAddr:APIPort, or disabled when APIPort is 0.
func Options(cfg *config.Config, logger *slog.Logger) ([]certix.ConfigOptionFunc, error) {
	shutdownTimeout, err := parseDuration("shutdown timeout", cfg.ShutdownTimeout)
	if err != nil {
		return nil, err
	}
	callTimeout, err := parseDuration("call timeout", cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	anchorTimeout, err := parseDuration("anchor timeout", cfg.AnchorTimeout)
	if err != nil {
		return nil, err
	}
	contractTimeout, err := parseDuration("contract timeout", cfg.ContractTimeout)
	if err != nil {
		return nil, err
	}
	apiAddr := ""
	if cfg.APIPort > 0 {
		apiAddr = fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.APIPort)
	}
	ret := []certix.ConfigOptionFunc{
		certix.WithLogger(logger),
		certix.WithDatabasePath(cfg.DatabasePath),
		certix.WithBlobPlugin(cfg.BlobPlugin),
		certix.WithMetadataPlugin(cfg.MetadataPlugin),
		certix.WithNetwork(cfg.Network),
		certix.WithHorizonURL(cfg.HorizonURL),
		certix.WithRPCURL(cfg.RPCURL),
		certix.WithContractID(cfg.ContractID),
		certix.WithAuthorization(cfg.AuthPolicy, cfg.AdminIdentity, cfg.Validators...),
		certix.WithSystemSecret(cfg.SystemSecret),
		certix.WithSystemKeyFile(cfg.SystemKeyFile),
		certix.WithAPIListenAddress(apiAddr),
		certix.WithVersion(version.GetVersionString()),
		certix.WithMaxFileSize(cfg.MaxFileSize),
		certix.WithTimeouts(callTimeout, anchorTimeout, contractTimeout),
		certix.WithReconcileWorkers(cfg.ReconcileWorkers),
		certix.WithContractCacheSize(cfg.ContractCacheSize),
		certix.WithTracing(cfg.Tracing),
		certix.WithTracingStdout(cfg.TracingStdout),
	}
	if shutdownTimeout > 0 {
		ret = append(ret, certix.WithShutdownTimeout(shutdownTimeout))
	}
	return ret, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		// Already validated by Options
		shutdownTimeout, _ = time.ParseDuration(cfg.ShutdownTimeout)
	}
	n, err := certix.New(
		certix.NewConfig(
			append(
				opts,
				// Enable metrics with default prometheus registry
				certix.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			)...,
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := n.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		shutdownMetrics()
		if stopErr := n.Stop(); stopErr != nil {
			logger.Error("shutdown errors occurred", "error", stopErr)
			if err == nil {
				return stopErr
			}
		}
		if err != nil {
			logger.Error("node error", "error", err)
			return err
		}
		logger.Info("node stopped")
		return nil
	}
}
