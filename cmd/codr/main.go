// Command codr runs the code execution service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/codrhq/codr/internal/bus"
	"github.com/codrhq/codr/internal/config"
	"github.com/codrhq/codr/internal/jobstore"
	"github.com/codrhq/codr/internal/protocol"
	"github.com/codrhq/codr/internal/server"
	"github.com/codrhq/codr/internal/token"
	"github.com/codrhq/codr/internal/validator"
	"github.com/codrhq/codr/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:   "codr",
		Short: "Sandboxed code execution service",
	}
	root.AddCommand(serveCmd(), validateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		addr      string
		configDir string
		dbPath    string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the execution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}

			// Flags and environment override the file.
			if addr != "" {
				cfg.Addr = addr
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			applyEnv(cfg)

			if cfg.JWTSecret == "" {
				return errors.New("jwt secret not configured (set jwt_secret or CODR_JWT_SECRET)")
			}

			logger := newLogger(logLevel)
			slog.SetDefault(logger)

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			b := bus.NewMemoryBus()
			defer b.Close()

			tokens := token.NewManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLSec)*time.Second)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := server.New(cfg, store, b, tokens, reg, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&configDir, "config", ".", "directory containing the codr config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <language> <file>",
		Short: "Run the static validator against a local source file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			language := protocol.Language(args[0])
			if !language.Valid() {
				return fmt.Errorf("unsupported language: %s", args[0])
			}

			source, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			ok, reason := validator.Validate(language, string(source))
			if !ok {
				fmt.Printf("rejected: %s\n", reason)
				os.Exit(1)
			}
			fmt.Println("accepted")
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the codr version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("codr", version.Version)
		},
	}
}

func loadConfig(dir string) (*config.Config, error) {
	cfg, name, err := config.Load(dir)
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", name, err)
	}
	return cfg, nil
}

// applyEnv lets deployment environments override secrets without a config
// file on disk.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("CODR_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CODR_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("CODR_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CODR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CODR_SANDBOX_BINARY"); v != "" {
		cfg.SandboxBinary = v
	}
	if v := os.Getenv("CODR_SANDBOX_PROFILE"); v != "" {
		cfg.SandboxProfile = v
	}
}

func openStore(cfg *config.Config) (jobstore.Store, error) {
	if cfg.DBPath == "" {
		return jobstore.NewMemoryStore(), nil
	}
	store, err := jobstore.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
