// Package main is the entry point for the polis-rpc binary.
// It serves the operation registry over a Unix socket and provides a
// client for calling it from the command line.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-rpc/internal/governance"
	"github.com/polisai/polis-rpc/pkg/client"
	"github.com/polisai/polis-rpc/pkg/config"
	"github.com/polisai/polis-rpc/pkg/logging"
	"github.com/polisai/polis-rpc/pkg/policy"
	"github.com/polisai/polis-rpc/pkg/registry"
	"github.com/polisai/polis-rpc/pkg/server"
	"github.com/polisai/polis-rpc/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-rpc
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-rpc",
		Short: "JSON RPC server for a fixed set of pure operations",
		Long: `polis-rpc exposes floor, nroot, reverse, validAnagram and sort over a
Unix domain socket. Each connection carries one JSON request and receives
one JSON response. serve-chat runs the UDP chat relay.

Example:
  polis-rpc serve --config polis-rpc.yaml
  polis-rpc call nroot 3 27
  polis-rpc serve-chat --addr 0.0.0.0:9001`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newCallCmd(), newOpsCmd(), newServeChatCmd(), newChatCmd())
	return rootCmd
}

// serveOptions holds the parsed serve flags.
type serveOptions struct {
	Config   string
	Socket   string
	LogLevel string
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve operations on a Unix socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := parseServeOptions(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringP("socket", "s", "", "Socket path, overrides the configuration")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error), overrides the configuration")
	return cmd
}

func parseServeOptions(cmd *cobra.Command) (serveOptions, error) {
	var opts serveOptions
	var err error
	if opts.Config, err = cmd.Flags().GetString("config"); err != nil {
		return opts, fmt.Errorf("failed to get config flag: %w", err)
	}
	if opts.Socket, err = cmd.Flags().GetString("socket"); err != nil {
		return opts, fmt.Errorf("failed to get socket flag: %w", err)
	}
	if opts.LogLevel, err = cmd.Flags().GetString("log-level"); err != nil {
		return opts, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	return opts, nil
}

// applyOverrides layers CLI flags over the loaded configuration and
// validates the fields they touched.
func applyOverrides(cfg *config.Config, opts serveOptions) error {
	if opts.Socket != "" {
		cfg.Server.Socket = opts.Socket
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := cfg.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	var (
		loader *config.Loader
		cfg    *config.Config
		err    error
	)
	if opts.Config != "" {
		loader, err = config.NewLoader(opts.Config, nil)
		if err != nil {
			return err
		}
		defer loader.Close()
		cfg, err = loader.Load()
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger.Logger)

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	engine, err := loadPolicy(ctx, cfg.Policy)
	if err != nil {
		return err
	}
	gate := policy.NewGate(engine)
	limiter := governance.NewRateLimiter(rateLimits(cfg))

	var metrics *server.Metrics
	if cfg.Metrics.Enabled {
		metrics = server.NewMetrics()
		metricsSrv := server.NewMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, metrics)
		go func() {
			logger.Info("Serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	srv := server.New(server.Config{
		Socket:          cfg.Server.Socket,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	}, registry.Default(),
		server.WithLogger(logger.Logger),
		server.WithAuthorizer(gate),
		server.WithRateLimiter(limiter),
		server.WithMetrics(metrics),
	)

	if loader != nil {
		loader.OnReloadError(func(error) { metrics.RecordConfigReload("failure") })
		err := loader.Watch(func(next *config.Config) {
			if err := applyOverrides(next, opts); err != nil {
				logger.Error("Config reload rejected", "error", err)
				metrics.RecordConfigReload("failure")
				return
			}
			status := reloadRuntime(ctx, logger, gate, limiter, next)
			metrics.RecordConfigReload(status)
		})
		if err != nil {
			return err
		}
	}

	logger.Info("Starting polis-rpc",
		"socket", cfg.Server.Socket,
		"operations", registry.Default().Names(),
		"policy", cfg.Policy.Path,
		"log_level", cfg.Logging.Level,
	)

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// loadPolicy returns nil when no policy is configured, which allows every call.
func loadPolicy(ctx context.Context, cfg config.PolicyConfig) (*policy.Engine, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	engine, err := policy.LoadEngine(ctx, cfg.Path, cfg.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return engine, nil
}

// reloadRuntime applies the settings that can change without a restart and
// returns the reload status label. Socket and metrics settings need a restart.
// Nothing is applied unless the policy loads.
func reloadRuntime(ctx context.Context, logger *logging.Logger, gate *policy.Gate, limiter *governance.RateLimiter, cfg *config.Config) string {
	engine, err := loadPolicy(ctx, cfg.Policy)
	if err != nil {
		logger.Error("Policy reload failed, keeping previous configuration", "error", err)
		return "failure"
	}

	logger.SetLevel(cfg.Logging.Level)
	limiter.Configure(rateLimits(cfg))
	gate.Swap(engine)
	logger.Info("Runtime configuration applied", "log_level", cfg.Logging.Level, "policy", cfg.Policy.Path)
	return "success"
}

func rateLimits(cfg *config.Config) map[string]governance.Limit {
	limits := make(map[string]governance.Limit, len(cfg.RateLimits))
	for method, limit := range cfg.RateLimits {
		limits[method] = governance.Limit{RequestsPerSecond: limit.RequestsPerSecond, Burst: limit.Burst}
	}
	return limits
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call METHOD [PARAM...]",
		Short: "Call an operation on a running server",
		Long: `Call sends one request and prints the JSON result.

Parameters are decoded as JSON when possible and sent as strings otherwise.
A parameter declared as string with --types is always sent verbatim.

Example:
  polis-rpc call floor 3.7
  polis-rpc call sort '["b","a"]'
  polis-rpc call reverse 123 --types string`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCall,
	}

	cmd.Flags().StringP("socket", "s", config.DefaultSocket, "Socket path of the server")
	cmd.Flags().StringSliceP("types", "t", nil, "Declared parameter types, comma separated")
	cmd.Flags().Duration("timeout", client.DefaultTimeout, "Time to wait for the response")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	socket, err := cmd.Flags().GetString("socket")
	if err != nil {
		return fmt.Errorf("failed to get socket flag: %w", err)
	}
	types, err := cmd.Flags().GetStringSlice("types")
	if err != nil {
		return fmt.Errorf("failed to get types flag: %w", err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}

	if len(types) > 0 && len(types) != len(args)-1 {
		return fmt.Errorf("--types lists %d types (%s) for %d parameters", len(types), strings.Join(types, ","), len(args)-1)
	}
	method, params := args[0], parseParams(args[1:], types)

	resp, err := client.New(socket, timeout).Call(cmd.Context(), method, params, types)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(resp.Result))
	return nil
}

// parseParams decodes each argument as JSON, falling back to the raw
// string. Arguments declared as strings are never decoded.
func parseParams(args, types []string) []any {
	params := make([]any, len(args))
	for i, arg := range args {
		if i < len(types) && registry.TypeString.Accepts(types[i]) {
			params[i] = arg
			continue
		}
		params[i] = parseParam(arg)
	}
	return params
}

func parseParam(arg string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(arg)))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil || dec.More() {
		return arg
	}
	return value
}

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List registered operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, op := range registry.Default().List() {
				fmt.Fprintln(out, op.Signature())
			}
			return nil
		},
	}
}
