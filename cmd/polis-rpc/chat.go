package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-rpc/pkg/chat"
	"github.com/polisai/polis-rpc/pkg/config"
	"github.com/polisai/polis-rpc/pkg/logging"
	"github.com/polisai/polis-rpc/pkg/server"
)

// chatOptions holds the parsed serve-chat flags.
type chatOptions struct {
	Config   string
	Addr     string
	LogLevel string
}

func newServeChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-chat",
		Short: "Relay chat datagrams between UDP peers",
		Long: `serve-chat relays fixed-size chat frames. Every frame a peer sends is
forwarded to all other peers that have sent at least one frame. Peers that send
a malformed frame, or that cannot be reached, are dropped until they send again.

Example:
  polis-rpc serve-chat --addr 0.0.0.0:9001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts chatOptions
			var err error
			if opts.Config, err = cmd.Flags().GetString("config"); err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}
			if opts.Addr, err = cmd.Flags().GetString("addr"); err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}
			if opts.LogLevel, err = cmd.Flags().GetString("log-level"); err != nil {
				return fmt.Errorf("failed to get log-level flag: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeChat(ctx, opts, nil)
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringP("addr", "a", "", "UDP listen address, overrides the configuration")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error), overrides the configuration")
	return cmd
}

// loadChatConfig loads the configuration and layers the serve-chat flags over it.
func loadChatConfig(opts chatOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Addr != "" {
		cfg.Chat.Addr = opts.Addr
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Chat.Validate(); err != nil {
		return nil, fmt.Errorf("chat configuration: %w", err)
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("logging configuration: %w", err)
	}
	return cfg, nil
}

// runServeChat serves until ctx is done. ready, when set, receives the bound
// address once the relay is listening.
func runServeChat(ctx context.Context, opts chatOptions, ready chan<- string) error {
	cfg, err := loadChatConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger.Logger)

	var metrics *chat.Metrics
	if cfg.Metrics.Enabled {
		metrics = chat.NewMetrics()
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

	relay := chat.New(chat.Config{Addr: cfg.Chat.Addr, WriteTimeout: cfg.Chat.WriteTimeout},
		chat.WithLogger(logger.Logger),
		chat.WithMetrics(metrics),
	)
	if err := relay.Listen(); err != nil {
		return err
	}
	if ready != nil {
		ready <- relay.Addr()
	}

	if err := relay.Start(ctx); err != nil {
		logger.Error("Chat relay error", "error", err)
		return err
	}
	logger.Info("Chat relay stopped")
	return nil
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a chat relay from the terminal",
		Long: `chat sends each line read from stdin as one frame and prints frames
relayed from other peers as "username: message". It exits at end of input.

Example:
  polis-rpc chat --username alice --addr 127.0.0.1:9001`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().StringP("addr", "a", "127.0.0.1:9001", "UDP address of the relay")
	cmd.Flags().StringP("username", "u", "", "Name shown to other peers")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return fmt.Errorf("failed to get addr flag: %w", err)
	}
	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return fmt.Errorf("failed to get username flag: %w", err)
	}

	client, err := chat.Dial(addr, username)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		printRelayed(ctx, client, cmd.OutOrStdout())
	}()
	defer func() {
		cancel()
		<-done
	}()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if err := client.Send(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printRelayed(ctx context.Context, client *chat.Client, out io.Writer) {
	for {
		msg, err := client.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Stopped receiving", "error", err)
			}
			return
		}
		fmt.Fprintf(out, "%s: %s\n", msg.Username, msg.Text)
	}
}
