// internal/bundle/mocks_test.go
package bundle

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/jito"
	"github.com/rovshanmuradov/leverage-sdk/internal/tipfloor"
	"github.com/stretchr/testify/mock"
)

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) SendBundle(ctx context.Context, encoded []string) (string, error) {
	args := m.Called(ctx, encoded)
	return args.String(0), args.Error(1)
}

func (m *MockRelay) AppendTipTransaction(ctx context.Context, txs []*solana.Transaction, tip jito.Tip) ([]*solana.Transaction, error) {
	args := m.Called(ctx, txs, tip)
	if out, ok := args.Get(0).([]*solana.Transaction); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRelay) AppendTipInstruction(ctx context.Context, txs []*solana.Transaction, tip jito.Tip) ([]*solana.Transaction, error) {
	args := m.Called(ctx, txs, tip)
	if out, ok := args.Get(0).([]*solana.Transaction); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	args := m.Called(ctx)
	return args.Get(0).(solana.Hash), args.Error(1)
}

type staticTips tipfloor.Snapshot

func (s staticTips) Tips() tipfloor.Snapshot { return tipfloor.Snapshot(s) }

// testTransaction строит неподписанную транзакцию с инструкцией на dataLen байт
func testTransaction(payer solana.PublicKey, dataLen int) *solana.Transaction {
	ix := solana.NewInstruction(
		solana.NewWallet().PublicKey(),
		[]*solana.AccountMeta{solana.NewAccountMeta(payer, true, true)},
		make([]byte, dataLen),
	)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(payer))
	if err != nil {
		panic(err)
	}
	return tx
}

func testTransactions(payer solana.PublicKey, n int) []*solana.Transaction {
	out := make([]*solana.Transaction, n)
	for i := range out {
		out[i] = testTransaction(payer, 16)
	}
	return out
}
