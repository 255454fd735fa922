// internal/leverage/transaction.go
package leverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/wallet"
)

// ErrTransactionTooLarge is re-exported so callers of this package can match it
// without importing the blockchain package.
var ErrTransactionTooLarge = blockchain.ErrTransactionTooLarge

var ErrNoInstructions = errors.New("transaction has no instructions")

// BlockhashSource supplies the latest blockhash.
type BlockhashSource interface {
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
}

// TransactionBuilder compiles lifecycle instructions into one transaction.
type TransactionBuilder struct {
	payer        solana.PublicKey
	instructions []solana.Instruction
	budget       computebudget.Config
	tables       map[solana.PublicKey]solana.PublicKeySlice
	signer       *wallet.Wallet
}

func NewTransactionBuilder(payer solana.PublicKey) *TransactionBuilder {
	return &TransactionBuilder{
		payer: payer,
		budget: computebudget.Config{
			Units: computebudget.LifecycleUnits,
		},
	}
}

// SetComputeBudget replaces the compute budget. A zero Config disables budget instructions.
func (b *TransactionBuilder) SetComputeBudget(cfg computebudget.Config) *TransactionBuilder {
	b.budget = cfg
	return b
}

// AddInstruction appends instructions to the transaction.
func (b *TransactionBuilder) AddInstruction(ix ...solana.Instruction) *TransactionBuilder {
	b.instructions = append(b.instructions, ix...)
	return b
}

// AddLifecycle appends the setup/cleanup pair of l.
func (b *TransactionBuilder) AddLifecycle(l *Lifecycle) *TransactionBuilder {
	return b.AddInstruction(l.Instructions()...)
}

// WithAddressTables compiles a v0 message against the given lookup tables.
func (b *TransactionBuilder) WithAddressTables(tables map[solana.PublicKey]solana.PublicKeySlice) *TransactionBuilder {
	b.tables = tables
	return b
}

// SignWith signs the compiled transaction with w. Without a signer Build
// returns the transaction unsigned.
func (b *TransactionBuilder) SignWith(w *wallet.Wallet) *TransactionBuilder {
	b.signer = w
	return b
}

// Build fetches a blockhash, compiles and size-checks the transaction.
func (b *TransactionBuilder) Build(ctx context.Context, source BlockhashSource) (*solana.Transaction, error) {
	if len(b.instructions) == 0 {
		return nil, ErrNoInstructions
	}
	if b.payer.IsZero() {
		return nil, fmt.Errorf("payer is not set")
	}

	instructions := make([]solana.Instruction, 0, len(b.instructions)+2)
	if !computebudget.HasBudgetInstructions(b.instructions) {
		budget, err := computebudget.BuildInstructions(b.budget)
		if err != nil {
			return nil, fmt.Errorf("failed to build compute budget instructions: %w", err)
		}
		instructions = append(instructions, budget...)
	}
	instructions = append(instructions, b.instructions...)

	blockhash, err := source.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(b.payer)}
	if len(b.tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(b.tables))
	}
	tx, err := solana.NewTransaction(instructions, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if _, err := blockchain.CheckSize(tx); err != nil {
		return nil, err
	}

	if b.signer != nil {
		if err := b.signer.SignTransaction(tx); err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
	}
	return tx, nil
}
