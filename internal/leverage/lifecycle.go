// internal/leverage/lifecycle.go
package leverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var (
	ErrUnknownOperation = errors.New("unknown lifecycle operation")
	ErrArgsMismatch     = errors.New("setup args do not match operation")
	ErrMissingResolver  = errors.New("account resolver is not set")
)

// AccountSet holds the fixed accounts of one setup/cleanup pair, in program order.
type AccountSet struct {
	Setup   []*solana.AccountMeta
	Cleanup []*solana.AccountMeta
}

// AccountResolver supplies the per-operation account sets (PDAs, token accounts,
// vaults). Implementations live outside this package.
type AccountResolver interface {
	ResolveAccounts(ctx context.Context, op Operation, position solana.PublicKey) (*AccountSet, error)
}

// Request describes one lifecycle operation around a swap route.
type Request struct {
	Operation Operation
	Position  solana.PublicKey
	Args      SetupArgs
	Route     []solana.Instruction
}

// Lifecycle is the assembled setup/cleanup pair.
type Lifecycle struct {
	Setup   solana.Instruction
	Cleanup solana.Instruction
	Route   *Route
}

// Instructions returns the instructions in transaction order. The swap hops are
// executed by the cleanup instruction, so they are not listed separately.
func (l *Lifecycle) Instructions() []solana.Instruction {
	return []solana.Instruction{l.Setup, l.Cleanup}
}

// Assembler builds setup/cleanup instruction pairs for the leverage program.
type Assembler struct {
	programID solana.PublicKey
	resolver  AccountResolver
	logger    *zap.Logger
}

func NewAssembler(programID solana.PublicKey, resolver AccountResolver, logger *zap.Logger) *Assembler {
	return &Assembler{
		programID: programID,
		resolver:  resolver,
		logger:    logger.Named("lifecycle"),
	}
}

// ProgramID returns the leverage program address the assembler targets.
func (a *Assembler) ProgramID() solana.PublicKey {
	return a.programID
}

// Assemble encodes the route and builds the setup and cleanup instructions.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Lifecycle, error) {
	if !req.Operation.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation)
	}
	if req.Args == nil || req.Args.Operation() != req.Operation {
		return nil, fmt.Errorf("%w: %s", ErrArgsMismatch, req.Operation)
	}
	if a.resolver == nil {
		return nil, ErrMissingResolver
	}

	accounts, err := a.resolver.ResolveAccounts(ctx, req.Operation, req.Position)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s accounts: %w", req.Operation, err)
	}

	route, err := EncodeHops(req.Route)
	if err != nil {
		return nil, fmt.Errorf("failed to encode route: %w", err)
	}

	setup, err := a.SetupInstruction(req.Args, accounts.Setup)
	if err != nil {
		return nil, err
	}
	cleanup, err := a.CleanupInstruction(req.Operation, accounts.Cleanup, route)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Assembled lifecycle instructions",
		zap.Stringer("operation", req.Operation),
		zap.String("position", req.Position.String()),
		zap.Int("hops", len(route.Hops)),
		zap.Int("route_data_len", len(route.Data)),
		zap.Int("route_accounts", len(route.Accounts)))

	return &Lifecycle{Setup: setup, Cleanup: cleanup, Route: route}, nil
}

// SetupInstruction builds the instruction that records pre-swap balances.
func (a *Assembler) SetupInstruction(args SetupArgs, accounts []*solana.AccountMeta) (solana.Instruction, error) {
	op := args.Operation()
	data, err := encodeInstructionData(op.SetupDiscriminator(), args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s setup args: %w", op, err)
	}
	return solana.NewInstruction(a.programID, copyMetas(accounts), data), nil
}

// CleanupInstruction builds the instruction that replays the route and finalizes
// the operation. Route accounts are appended after the fixed accounts unchanged;
// reordering them would break every hop's AccountStart.
func (a *Assembler) CleanupInstruction(op Operation, accounts []*solana.AccountMeta, route *Route) (solana.Instruction, error) {
	if route == nil {
		route = &Route{}
	}
	data, err := encodeInstructionData(op.CleanupDiscriminator(), CleanupArgs{
		Hops: route.Hops,
		Data: route.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s cleanup args: %w", op, err)
	}

	metas := make([]*solana.AccountMeta, 0, len(accounts)+len(route.Accounts))
	metas = append(metas, copyMetas(accounts)...)
	metas = append(metas, route.Accounts...)
	return solana.NewInstruction(a.programID, metas, data), nil
}

func copyMetas(metas []*solana.AccountMeta) []*solana.AccountMeta {
	out := make([]*solana.AccountMeta, 0, len(metas))
	for _, m := range metas {
		out = append(out, &solana.AccountMeta{
			PublicKey:  m.PublicKey,
			IsWritable: m.IsWritable,
			IsSigner:   m.IsSigner,
		})
	}
	return out
}
