// ====================================
// File: cmd/leverage/main.go
// ====================================
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/leverage-sdk/internal/bot"
	"github.com/rovshanmuradov/leverage-sdk/internal/config"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/logger"
)

var rootCmd = &cobra.Command{
	Use:           "leverage",
	Short:         "Leveraged position lifecycle and Jito bundle tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig string
	flagDebug  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "Path to the config file (empty: env only)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Debug logging (overrides debug_logging)")
}

// setup загружает конфиг, создаёт логгер и runner
func setup(override func(cfg *config.Config)) (*bot.Runner, *config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging || flagDebug
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	runner, err := bot.NewRunner(cfg, log)
	if err != nil {
		log.LogError("Failed to initialize runner", err)
		return nil, nil, nil, err
	}
	log.Debug("Runner initialized",
		zap.Strings("rpc_list", cfg.RPCList),
		zap.String("block_engine_url", cfg.BlockEngineURL))
	return runner, cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
