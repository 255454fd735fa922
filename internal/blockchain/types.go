// internal/blockchain/types.go
package blockchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MaxTransactionSize is the ledger's packet data size; a serialized
// transaction (signatures included) must not exceed it.
const MaxTransactionSize = 1232

// ErrTransactionTooLarge is returned when a compiled transaction does not fit MaxTransactionSize.
var ErrTransactionTooLarge = errors.New("transaction exceeds maximum size")

// Connection is the read-only view of the ledger used by the builders.
type Connection interface {
	// Latest blockhash.
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
	// Account state.
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	// Several accounts in one request.
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
}

// SerializedSize returns the wire size of tx. Unsigned transactions are
// measured with placeholder signatures, so the result equals the signed size.
func SerializedSize(tx *solana.Transaction) (int, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return len(raw), nil
}

// CheckSize returns ErrTransactionTooLarge when tx does not fit MaxTransactionSize.
func CheckSize(tx *solana.Transaction) (int, error) {
	size, err := SerializedSize(tx)
	if err != nil {
		return 0, err
	}
	if size > MaxTransactionSize {
		return size, fmt.Errorf("%w: %d > %d bytes", ErrTransactionTooLarge, size, MaxTransactionSize)
	}
	return size, nil
}
