// internal/leverage/transaction_test.go
package leverage

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBlockhashSource struct {
	mock.Mock
}

func (m *mockBlockhashSource) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	args := m.Called(ctx)
	return args.Get(0).(solana.Hash), args.Error(1)
}

func testWallet() *wallet.Wallet {
	w := solana.NewWallet()
	return &wallet.Wallet{PrivateKey: w.PrivateKey, PublicKey: w.PublicKey()}
}

func TestTransactionBuilder_Build(t *testing.T) {
	w := testWallet()
	blockhash := solana.Hash(newKey())
	source := new(mockBlockhashSource)
	source.On("GetRecentBlockhash", mock.Anything).Return(blockhash, nil)

	ix := solana.NewInstruction(newKey(), []*solana.AccountMeta{
		solana.NewAccountMeta(w.PublicKey, true, true),
	}, []byte{1, 2, 3})

	tx, err := NewTransactionBuilder(w.PublicKey).
		AddInstruction(ix).
		SignWith(w).
		Build(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, blockhash, tx.Message.RecentBlockhash)
	assert.Equal(t, w.PublicKey, tx.Message.AccountKeys[0])
	// compute unit limit + the instruction; no price by default
	require.Len(t, tx.Message.Instructions, 2)
	program, err := tx.Message.Program(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, computebudget.ProgramID, program)

	require.Len(t, tx.Signatures, 1)
	assert.False(t, tx.Signatures[0].IsZero())
	require.NoError(t, tx.VerifySignatures())
}

func TestTransactionBuilder_KeepsExistingBudget(t *testing.T) {
	source := new(mockBlockhashSource)
	source.On("GetRecentBlockhash", mock.Anything).Return(solana.Hash{}, nil)

	budget, err := computebudget.BuildInstructions(computebudget.Config{Units: 50_000, UnitPrice: 10})
	require.NoError(t, err)

	payer := newKey()
	tx, err := NewTransactionBuilder(payer).
		AddInstruction(budget...).
		AddInstruction(testInstruction(4, 1)).
		Build(context.Background(), source)
	require.NoError(t, err)
	assert.Len(t, tx.Message.Instructions, 3)
	assert.Empty(t, tx.Signatures)
}

func TestTransactionBuilder_TooLarge(t *testing.T) {
	source := new(mockBlockhashSource)
	source.On("GetRecentBlockhash", mock.Anything).Return(solana.Hash{}, nil)

	_, err := NewTransactionBuilder(newKey()).
		AddInstruction(testInstruction(blockchain.MaxTransactionSize, 1)).
		Build(context.Background(), source)
	assert.ErrorIs(t, err, ErrTransactionTooLarge)
}

func TestTransactionBuilder_Errors(t *testing.T) {
	source := new(mockBlockhashSource)
	source.On("GetRecentBlockhash", mock.Anything).Return(solana.Hash{}, errors.New("no blockhash"))

	_, err := NewTransactionBuilder(newKey()).Build(context.Background(), source)
	assert.ErrorIs(t, err, ErrNoInstructions)

	_, err = NewTransactionBuilder(newKey()).AddInstruction(testInstruction(1, 1)).Build(context.Background(), source)
	assert.ErrorContains(t, err, "no blockhash")
}
