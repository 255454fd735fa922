// internal/leverage/lifecycle_test.go
package leverage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveAccounts(ctx context.Context, op Operation, position solana.PublicKey) (*AccountSet, error) {
	args := m.Called(ctx, op, position)
	if set, ok := args.Get(0).(*AccountSet); ok {
		return set, args.Error(1)
	}
	return nil, args.Error(1)
}

func fixedAccounts(n int) []*solana.AccountMeta {
	out := make([]*solana.AccountMeta, n)
	for i := range out {
		out[i] = solana.NewAccountMeta(newKey(), true, i == 0)
	}
	return out
}

func TestDiscriminators(t *testing.T) {
	sum := sha256.Sum256([]byte("global:open_position_setup"))
	assert.Equal(t, sum[:8], func() []byte { d := OpOpenPosition.SetupDiscriminator(); return d[:] }())

	sum = sha256.Sum256([]byte("global:liquidate_cleanup"))
	assert.Equal(t, sum[:8], func() []byte { d := OpLiquidate.CleanupDiscriminator(); return d[:] }())

	seen := map[[8]byte]string{}
	for op := range operationNames {
		for _, d := range [][8]byte{op.SetupDiscriminator(), op.CleanupDiscriminator()} {
			_, dup := seen[d]
			assert.False(t, dup, "duplicate discriminator for %s", op)
			seen[d] = op.String()
		}
	}
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "trigger_order", OpTriggerOrder.String())
	assert.Equal(t, "operation(42)", Operation(42).String())
	assert.False(t, Operation(42).Valid())
}

func TestAssemble_OpenPosition(t *testing.T) {
	programID := newKey()
	position := newKey()
	setupAccounts := fixedAccounts(4)
	cleanupAccounts := fixedAccounts(3)

	resolver := new(mockResolver)
	resolver.On("ResolveAccounts", mock.Anything, OpOpenPosition, position).
		Return(&AccountSet{Setup: setupAccounts, Cleanup: cleanupAccounts}, nil)

	swap1 := testInstruction(12, 3)
	swap2 := testInstruction(20, 1)
	args := OpenPositionArgs{
		Nonce:               7,
		MinTargetAmount:     1_000,
		DownPayment:         2_000,
		Principal:           3_000,
		Fee:                 10,
		ExpirationTimestamp: 1_700_000_000,
	}

	assembler := NewAssembler(programID, resolver, zap.NewNop())
	lifecycle, err := assembler.Assemble(context.Background(), Request{
		Operation: OpOpenPosition,
		Position:  position,
		Args:      args,
		Route:     []solana.Instruction{swap1, swap2},
	})
	require.NoError(t, err)
	resolver.AssertExpectations(t)

	// Setup: discriminator || borsh(args)
	setupData, err := lifecycle.Setup.Data()
	require.NoError(t, err)
	disc := OpOpenPosition.SetupDiscriminator()
	assert.Equal(t, disc[:], setupData[:8])
	expected := new(bytes.Buffer)
	expected.Write(disc[:])
	require.NoError(t, binary.Write(expected, binary.LittleEndian, args.Nonce))
	for _, v := range []uint64{args.MinTargetAmount, args.DownPayment, args.Principal, args.Fee} {
		require.NoError(t, binary.Write(expected, binary.LittleEndian, v))
	}
	require.NoError(t, binary.Write(expected, binary.LittleEndian, args.ExpirationTimestamp))
	assert.Equal(t, expected.Bytes(), setupData)
	assert.Equal(t, programID, lifecycle.Setup.ProgramID())
	assert.Len(t, lifecycle.Setup.Accounts(), len(setupAccounts))

	// Cleanup: fixed accounts, then the route accounts in encoder order.
	cleanupMetas := lifecycle.Cleanup.Accounts()
	require.Len(t, cleanupMetas, len(cleanupAccounts)+len(lifecycle.Route.Accounts))
	for i, meta := range cleanupAccounts {
		assert.Equal(t, meta.PublicKey, cleanupMetas[i].PublicKey)
	}
	for i, meta := range lifecycle.Route.Accounts {
		assert.Equal(t, meta.PublicKey, cleanupMetas[len(cleanupAccounts)+i].PublicKey)
	}
	assert.Equal(t, swap1.ProgramID(), cleanupMetas[len(cleanupAccounts)].PublicKey)

	cleanupData, err := lifecycle.Cleanup.Data()
	require.NoError(t, err)
	cleanupDisc := OpOpenPosition.CleanupDiscriminator()
	assert.Equal(t, cleanupDisc[:], cleanupData[:8])

	var decoded CleanupArgs
	require.NoError(t, bin.NewBorshDecoder(cleanupData[8:]).Decode(&decoded))
	assert.Equal(t, lifecycle.Route.Hops, decoded.Hops)
	assert.Equal(t, lifecycle.Route.Data, decoded.Data)

	assert.Equal(t, []solana.Instruction{lifecycle.Setup, lifecycle.Cleanup}, lifecycle.Instructions())
}

func TestCleanupArgs_Layout(t *testing.T) {
	program := newKey()
	args := CleanupArgs{
		Hops: []Hop{{ProgramID: program, DataStart: 0, DataLen: 3, AccountStart: 1, AccountCount: 2}},
		Data: []byte{9, 8, 7},
	}
	data, err := encodeInstructionData([8]byte{}, args)
	require.NoError(t, err)

	body := data[8:]
	require.Len(t, body, 4+hopSize+4+3)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(body[0:4]))
	assert.Equal(t, program[:], body[4:36])
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(body[38:40]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(body[40:42]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(body[44:48]))
	assert.Equal(t, []byte{9, 8, 7}, body[48:])
}

func TestAssemble_EmptyRoute(t *testing.T) {
	resolver := new(mockResolver)
	resolver.On("ResolveAccounts", mock.Anything, OpClosePosition, mock.Anything).
		Return(&AccountSet{Setup: fixedAccounts(2), Cleanup: fixedAccounts(2)}, nil)

	lifecycle, err := NewAssembler(newKey(), resolver, zap.NewNop()).Assemble(context.Background(), Request{
		Operation: OpClosePosition,
		Position:  newKey(),
		Args:      ClosePositionArgs{MinTargetAmount: 1},
	})
	require.NoError(t, err)
	assert.Len(t, lifecycle.Cleanup.Accounts(), 2)
	assert.Empty(t, lifecycle.Route.Hops)
}

func TestAssemble_Errors(t *testing.T) {
	resolverErr := errors.New("rpc down")
	failing := new(mockResolver)
	failing.On("ResolveAccounts", mock.Anything, mock.Anything, mock.Anything).Return(nil, resolverErr)

	tests := []struct {
		name     string
		resolver AccountResolver
		req      Request
		wantErr  error
	}{
		{
			name:    "unknown operation",
			req:     Request{Operation: Operation(99), Args: OpenPositionArgs{}},
			wantErr: ErrUnknownOperation,
		},
		{
			name:    "args mismatch",
			req:     Request{Operation: OpLiquidate, Args: OpenPositionArgs{}},
			wantErr: ErrArgsMismatch,
		},
		{
			name:    "nil args",
			req:     Request{Operation: OpLiquidate},
			wantErr: ErrArgsMismatch,
		},
		{
			name:    "missing resolver",
			req:     Request{Operation: OpLiquidate, Args: LiquidateArgs{}},
			wantErr: ErrMissingResolver,
		},
		{
			name:     "resolver failure",
			resolver: failing,
			req:      Request{Operation: OpTriggerOrder, Args: TriggerOrderArgs{Kind: TriggerTakeProfit}},
			wantErr:  resolverErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAssembler(newKey(), tt.resolver, zap.NewNop()).Assemble(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
