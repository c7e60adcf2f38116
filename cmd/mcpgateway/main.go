package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/gateway"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/logs"
)

var (
	configFile   string
	dataDir      string
	listen       string
	logLevel     string
	logToFile    bool
	logDir       string
	retrievalURL string

	version = "v0.1.0" // Injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpgateway",
		Short:   "Unified MCP Gateway - one endpoint for tool discovery and execution across MCP backends",
		Version: version,
		RunE:    runGateway,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpgateway)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	rootCmd.PersistentFlags().StringVar(&retrievalURL, "retrieval-url", "", "URL of the primary tool retrieval service")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runGateway(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Logging == nil {
		cfg.Logging = &config.LogConfig{
			Level:         logLevel,
			EnableFile:    logToFile,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		}
	} else {
		cfg.Logging.Level = logLevel
		cfg.Logging.EnableFile = logToFile
	}
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting mcpgateway",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("backends_count", len(cfg.Backends)))

	// Write a config file on first run so operators have something to edit.
	if configFile == "" {
		path := config.GetConfigPath(cfg.DataDir)
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if err := config.SaveConfig(cfg, path); err != nil {
				logger.Warn("Failed to write initial config file",
					zap.String("path", path), zap.Error(err))
			} else {
				logger.Info("Wrote initial config file", zap.String("path", path))
			}
		}
	}

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("gateway exited: %w", err)
	}

	logger.Info("Gateway stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if retrievalURL != "" {
		if cfg.Retrieval == nil {
			defaults := config.DefaultConfig()
			cfg.Retrieval = defaults.Retrieval
		}
		cfg.Retrieval.PrimaryURL = retrievalURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
