// internal/bundle/tip.go
package bundle

import (
	"fmt"
	"math"
	"strings"

	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/tipfloor"
	"github.com/shopspring/decimal"
)

const LamportsPerSOL = 1_000_000_000

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// FeeMode selects how the tip amount is priced.
type FeeMode string

const (
	FeeModeFixed   FeeMode = "fixed"
	FeeModeDynamic FeeMode = "dynamic"
)

// Speed is the tier used to pick a percentile in dynamic mode.
type Speed string

const (
	SpeedNormal Speed = "normal"
	SpeedFast   Speed = "fast"
	SpeedTurbo  Speed = "turbo"
)

// TipSource supplies the latest tip snapshot. Tips must not block.
type TipSource interface {
	Tips() tipfloor.Snapshot
}

// FeeConfig is the tip and compute budget configuration of one build.
// An empty Mode is treated as fixed.
type FeeConfig struct {
	Mode        FeeMode
	Lamports    uint64 // fixed tip
	Speed       Speed
	MaxLamports uint64 // ceiling for dynamic tips, 0 disables it

	// Compute budget of a dedicated tip transaction.
	ComputeUnits     uint32
	ComputeUnitPrice uint64
}

func (f FeeConfig) dynamic() bool {
	return f.Mode == FeeModeDynamic
}

func (f FeeConfig) validate() error {
	switch f.Mode {
	case "", FeeModeFixed:
		return nil
	case FeeModeDynamic:
		if _, err := percentile(f.Speed, tipfloor.FloorSnapshot()); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown fee mode %q", ErrConfiguration, f.Mode)
	}
}

// Budget returns the compute budget used for a dedicated tip transaction.
func (f FeeConfig) Budget() computebudget.Config {
	units := f.ComputeUnits
	if units == 0 {
		units = computebudget.TipUnits
	}
	return computebudget.Config{Units: units, UnitPrice: f.ComputeUnitPrice}
}

// ParseSpeed accepts the speed names case-insensitively.
func ParseSpeed(s string) Speed {
	return Speed(strings.ToLower(strings.TrimSpace(s)))
}

func percentile(speed Speed, snap tipfloor.Snapshot) (decimal.Decimal, error) {
	switch speed {
	case SpeedNormal:
		return snap.EMA50, nil
	case SpeedFast:
		return snap.P75, nil
	case SpeedTurbo:
		return snap.P95, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unknown speed %q", ErrConfiguration, speed)
	}
}

// SOLToLamports converts sol to lamports, rounding up. Amounts beyond uint64
// saturate at math.MaxUint64.
func SOLToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Mul(lamportsPerSOL).Ceil()
	if lamports.IsNegative() {
		return 0
	}
	n := lamports.BigInt()
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

// ResolveTipLamports prices the tip. Fixed tips are used verbatim; dynamic tips
// take the speed tier's percentile, round up to lamports and clamp to MaxLamports.
func ResolveTipLamports(fee FeeConfig, tips TipSource) (uint64, error) {
	if !fee.dynamic() {
		return fee.Lamports, nil
	}
	if tips == nil {
		return 0, fmt.Errorf("%w: dynamic fee requires a tip source", ErrConfiguration)
	}

	value, err := percentile(fee.Speed, tips.Tips())
	if err != nil {
		return 0, err
	}
	lamports := SOLToLamports(value)
	if fee.MaxLamports > 0 && lamports > fee.MaxLamports {
		lamports = fee.MaxLamports
	}
	return lamports, nil
}
