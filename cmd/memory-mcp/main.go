package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/api"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/command"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/config"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/tools"
)

var version = "dev"

var cfgPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "memory-mcp",
		Short:         "Associative long-term memory server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $CONFIG_PATH or configs/memory.json)")
	root.AddCommand(serveCmd(), stdioCmd(), statsCmd(), watchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path from the flag, then CONFIG_PATH.
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/memory.json"
	}
	return config.Load(path)
}

// newLogger always writes to stderr so stdout stays free for the MCP transport.
func newLogger(level string) (*zap.Logger, error) {
	switch level {
	case "info", "warn", "error":
		cfg := zap.NewProductionConfig()
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		return cfg.Build()
	default:
		return zap.NewDevelopment()
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := command.NewRegistry()
			command.RegisterBuiltins(reg)
			command.RegisterMemoryCommands(reg, a.svc)
			handler := api.NewHandler(a.svc, reg, logger.Named("api"))

			if port == 0 {
				port = cfg.Server.Port
			}
			if port == 0 {
				port = 3210
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("memory server listening", zap.Int("port", port))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down memory server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides server.port)")
	return cmd
}

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the memory tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := openApp(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			s := tools.NewServer(a.svc, version, logger.Named("tools"))
			logger.Info("serving MCP over stdio")
			return server.ServeStdio(s)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memory statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.Store.Stats(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"memories": st,
				"links":    a.svc.Graph.LinkCount(),
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the memory event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := openEvents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range bus.Subscribe(ctx, from) {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "$", `stream id to start after ("0" replays history)`)
	return cmd
}
