// internal/blockchain/solana/programs/computebudget/computebudget.go
package computebudget

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	cb "github.com/gagliardetto/solana-go/programs/compute-budget"
)

var ProgramID = cb.ProgramID

// Predefined compute unit profiles
const (
	DefaultUnits   uint32 = 200_000
	TipUnits       uint32 = 1_000
	LifecycleUnits uint32 = 600_000
	MaxUnits       uint32 = 1_400_000
)

// Config is the compute budget attached to a transaction.
// Zero Units leaves the limit instruction out; zero UnitPrice leaves the price out.
type Config struct {
	Units     uint32
	UnitPrice uint64 // micro-lamports per compute unit
}

// BuildInstructions returns the compute budget instructions for cfg, limit first.
func BuildInstructions(cfg Config) ([]solana.Instruction, error) {
	if cfg.Units > MaxUnits {
		return nil, fmt.Errorf("compute unit limit %d exceeds maximum %d", cfg.Units, MaxUnits)
	}

	var instructions []solana.Instruction
	if cfg.Units > 0 {
		limit, err := cb.NewSetComputeUnitLimitInstruction(cfg.Units).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute unit limit instruction: %w", err)
		}
		instructions = append(instructions, limit)
	}
	if cfg.UnitPrice > 0 {
		price, err := cb.NewSetComputeUnitPriceInstruction(cfg.UnitPrice).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, price)
	}
	return instructions, nil
}

// HasBudgetInstructions reports whether ixs already carry a compute budget instruction.
func HasBudgetInstructions(ixs []solana.Instruction) bool {
	for _, ix := range ixs {
		if ix.ProgramID().Equals(ProgramID) {
			return true
		}
	}
	return false
}
