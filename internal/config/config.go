// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/jito"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/bundle"
	"github.com/rovshanmuradov/leverage-sdk/internal/tipfloor"
	"github.com/spf13/viper"
)

const envPrefix = "LEVERAGE"

type FeeConfig struct {
	Mode             string `mapstructure:"mode"`
	Lamports         uint64 `mapstructure:"lamports"`
	Speed            string `mapstructure:"speed"`
	MaxLamports      uint64 `mapstructure:"max_lamports"`
	ComputeUnits     uint32 `mapstructure:"compute_units"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
}

type Config struct {
	RPCList          []string  `mapstructure:"rpc_list"`
	BlockEngineURL   string    `mapstructure:"block_engine_url"`
	TipFloorURL      string    `mapstructure:"tip_floor_url"`
	TipStreamURL     string    `mapstructure:"tip_stream_url"`
	TipStreamEnabled bool      `mapstructure:"tip_stream_enabled"`
	TipRefreshMs     int       `mapstructure:"tip_refresh_ms"`
	ProgramID        string    `mapstructure:"program_id"`
	WalletFile       string    `mapstructure:"wallet_file"`
	WalletName       string    `mapstructure:"wallet_name"`
	Fee              FeeConfig `mapstructure:"fee"`
	TipPlacement     string    `mapstructure:"tip_placement"`
	MaxBundleTxs     int       `mapstructure:"max_bundle_txs"`
	Retries          int       `mapstructure:"retries"`
	DebugLogging     bool      `mapstructure:"debug_logging"`
	LogFile          string    `mapstructure:"log_file"`
	MetricsAddr      string    `mapstructure:"metrics_addr"`
}

const (
	DefaultTipRefreshMs = 10_000
	DefaultFeeLamports  = 10_000
	DefaultRetries      = 3
	DefaultLogFile      = "leverage.log"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"block_engine_url":       jito.DefaultBlockEngineURL,
		"tip_floor_url":          tipfloor.DefaultFloorURL,
		"tip_stream_url":         tipfloor.DefaultStreamURL,
		"tip_stream_enabled":     false,
		"tip_refresh_ms":         DefaultTipRefreshMs,
		"program_id":             "",
		"wallet_file":            "",
		"wallet_name":            "",
		"fee.mode":               string(bundle.FeeModeFixed),
		"fee.lamports":           DefaultFeeLamports,
		"fee.speed":              string(bundle.SpeedNormal),
		"fee.max_lamports":       0,
		"fee.compute_units":      0,
		"fee.compute_unit_price": 0,
		"tip_placement":          string(bundle.PlacementAuto),
		"max_bundle_txs":         0,
		"retries":                DefaultRetries,
		"debug_logging":          false,
		"log_file":               DefaultLogFile,
		"metrics_addr":           "",
	}
}

// LoadConfig reads path and applies LEVERAGE_* environment overrides.
// An empty path builds the config from defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.RPCList = cleanList(cfg.RPCList)

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// TipRefreshInterval returns tip_refresh_ms as a duration.
func (c *Config) TipRefreshInterval() time.Duration {
	return time.Duration(c.TipRefreshMs) * time.Millisecond
}

// BundleFee converts the fee section into the bundle builder's fee config.
func (c *Config) BundleFee() bundle.FeeConfig {
	return bundle.FeeConfig{
		Mode:             bundle.FeeMode(strings.ToLower(strings.TrimSpace(c.Fee.Mode))),
		Lamports:         c.Fee.Lamports,
		Speed:            bundle.ParseSpeed(c.Fee.Speed),
		MaxLamports:      c.Fee.MaxLamports,
		ComputeUnits:     c.Fee.ComputeUnits,
		ComputeUnitPrice: c.Fee.ComputeUnitPrice,
	}
}

// Placement returns the parsed tip_placement.
func (c *Config) Placement() bundle.Placement {
	p, _ := bundle.ParsePlacement(c.TipPlacement)
	return p
}

// Program returns the leverage program id, zero when program_id is unset.
func (c *Config) Program() solana.PublicKey {
	if c.ProgramID == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKeyFromBase58(c.ProgramID)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if err := validateURLWithCache(cfg.BlockEngineURL, "http"); err != nil {
		return errors.New("invalid block_engine_url")
	}
	if err := validateURLWithCache(cfg.TipFloorURL, "http"); err != nil {
		return errors.New("invalid tip_floor_url")
	}
	if cfg.TipStreamEnabled {
		if err := validateURLWithCache(cfg.TipStreamURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	if cfg.ProgramID != "" {
		if _, err := solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
			return fmt.Errorf("invalid program_id: %w", err)
		}
	}
	if _, err := bundle.ParsePlacement(cfg.TipPlacement); err != nil {
		return err
	}
	if err := validateFee(cfg); err != nil {
		return err
	}
	return validateNumericParams(cfg)
}

func validateFee(cfg *Config) error {
	fee := cfg.BundleFee()
	switch fee.Mode {
	case "", bundle.FeeModeFixed:
	case bundle.FeeModeDynamic:
		switch fee.Speed {
		case bundle.SpeedNormal, bundle.SpeedFast, bundle.SpeedTurbo:
		default:
			return fmt.Errorf("invalid fee.speed %q", cfg.Fee.Speed)
		}
	default:
		return fmt.Errorf("invalid fee.mode %q", cfg.Fee.Mode)
	}
	if fee.ComputeUnits > computebudget.MaxUnits {
		return errors.New("invalid fee.compute_units")
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.TipRefreshMs <= 0 {
		return errors.New("invalid tip_refresh_ms")
	}
	// 0 leaves the bundle size to the caller's transaction count
	if cfg.MaxBundleTxs < 0 || cfg.MaxBundleTxs > bundle.MaxBundleTransactions {
		return errors.New("invalid max_bundle_txs")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

// loadEnvironmentVariables handles overrides viper cannot unmarshal on its own.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" && !strings.HasPrefix(strings.TrimSpace(envRPCList), "[") {
		if rpcs := cleanList(strings.Split(envRPCList, ",")); len(rpcs) > 0 {
			cfg.RPCList = rpcs
		}
	}
	return nil
}

func cleanList(items []string) []string {
	var clean []string
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			clean = append(clean, s)
		}
	}
	return clean
}
