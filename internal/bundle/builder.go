// internal/bundle/builder.go
package bundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/jito"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/metrics"
	"go.uber.org/zap"
)

const (
	// MaxBundleTransactions is the relay's limit for one atomic bundle.
	MaxBundleTransactions = 5

	// TipInstructionHeadroom is the room a trailing tip transfer needs in the
	// last transaction: the compiled transfer (program index, account count,
	// two account indices, data length, 12 data bytes = 17) plus two new
	// 32-byte keys for the tip account and the system program.
	TipInstructionHeadroom = 81
)

// Placement selects where the tip goes.
type Placement string

const (
	PlacementNone        Placement = "none"
	PlacementTransaction Placement = "tx"
	PlacementInstruction Placement = "ix"
	PlacementAuto        Placement = "auto"
)

// ParsePlacement parses a placement name; an empty string means auto.
func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PlacementAuto, nil
	case PlacementNone, PlacementTransaction, PlacementInstruction, PlacementAuto:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown tip placement %q", ErrConfiguration, s)
	}
}

// Relay builds tip legs and submits bundles.
type Relay interface {
	SendBundle(ctx context.Context, encoded []string) (string, error)
	AppendTipTransaction(ctx context.Context, txs []*solana.Transaction, tip jito.Tip) ([]*solana.Transaction, error)
	AppendTipInstruction(ctx context.Context, txs []*solana.Transaction, tip jito.Tip) ([]*solana.Transaction, error)
}

// Connection supplies the blockhash of a dedicated tip transaction.
type Connection interface {
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
}

// Bundle is a list of transactions that land together or not at all.
type Bundle struct {
	Transactions []*solana.Transaction
	// MaxTransactionCount is the caller's atomic unit, excluding any tip transaction.
	MaxTransactionCount int
}

// Encode returns the transactions base64-encoded for sendBundle.
func (b *Bundle) Encode() ([]string, error) {
	out := make([]string, 0, len(b.Transactions))
	for i, tx := range b.Transactions {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize transaction %d: %w", i, err)
		}
		out = append(out, base64.StdEncoding.EncodeToString(raw))
	}
	return out, nil
}

// Submit encodes the bundle and sends it through relay, returning the bundle id.
func (b *Bundle) Submit(ctx context.Context, relay Relay) (string, error) {
	encoded, err := b.Encode()
	if err != nil {
		return "", err
	}
	return relay.SendBundle(ctx, encoded)
}

// Builder is an immutable bundle configuration. Every With method returns a
// modified copy, so a Builder can be shared and specialized freely.
type Builder struct {
	relay     Relay
	conn      Connection
	payer     solana.PublicKey
	txs       []*solana.Transaction
	maxCount  int
	maxSet    bool
	fee       FeeConfig
	placement Placement
	tips      TipSource
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func New() Builder {
	return Builder{
		placement: PlacementNone,
		logger:    zap.NewNop(),
	}
}

func (b Builder) WithRelay(relay Relay) Builder {
	b.relay = relay
	return b
}

func (b Builder) WithConnection(conn Connection) Builder {
	b.conn = conn
	return b
}

// WithPayer sets the account paying the tip.
func (b Builder) WithPayer(payer solana.PublicKey) Builder {
	b.payer = payer
	return b
}

// WithTransactions replaces the transaction list.
func (b Builder) WithTransactions(txs ...*solana.Transaction) Builder {
	b.txs = append([]*solana.Transaction(nil), txs...)
	return b
}

// WithMaxTransactionCount overrides Bundle.MaxTransactionCount; n must be in [1, MaxBundleTransactions].
func (b Builder) WithMaxTransactionCount(n int) Builder {
	b.maxCount = n
	b.maxSet = true
	return b
}

func (b Builder) WithFee(fee FeeConfig) Builder {
	b.fee = fee
	return b
}

func (b Builder) WithPlacement(p Placement) Builder {
	b.placement = p
	return b
}

func (b Builder) WithTipSource(tips TipSource) Builder {
	b.tips = tips
	return b
}

func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger.Named("bundle")
	return b
}

func (b Builder) WithMetrics(collector *metrics.Collector) Builder {
	b.metrics = collector
	return b
}

// Validate runs every precondition of Build without touching the network.
func (b Builder) Validate() error {
	if b.payer.IsZero() {
		return fmt.Errorf("%w: payer is not set", ErrConfiguration)
	}
	if b.conn == nil {
		return fmt.Errorf("%w: connection is not set", ErrConfiguration)
	}
	if b.relay == nil {
		return fmt.Errorf("%w: relay is not set", ErrConfiguration)
	}
	switch b.placement {
	case PlacementNone, PlacementTransaction, PlacementInstruction, PlacementAuto:
	default:
		return fmt.Errorf("%w: unknown tip placement %q", ErrConfiguration, b.placement)
	}
	if err := b.fee.validate(); err != nil {
		return err
	}
	if b.fee.dynamic() && b.tips == nil {
		return fmt.Errorf("%w: dynamic fee requires a tip source", ErrConfiguration)
	}
	if b.maxSet && b.maxCount < 1 {
		return fmt.Errorf("%w: max transaction count %d is below 1", ErrConfiguration, b.maxCount)
	}

	if len(b.txs) == 0 {
		return ErrEmptyBundle
	}
	for i, tx := range b.txs {
		if tx == nil {
			return fmt.Errorf("%w: transaction %d is nil", ErrConfiguration, i)
		}
	}
	if len(b.txs) > MaxBundleTransactions {
		return fmt.Errorf("%w: %d transactions, limit is %d", ErrBundleSizeExceeded, len(b.txs), MaxBundleTransactions)
	}
	if b.maxSet && b.maxCount > MaxBundleTransactions {
		return fmt.Errorf("%w: max transaction count %d, limit is %d", ErrBundleSizeExceeded, b.maxCount, MaxBundleTransactions)
	}
	return nil
}

// Build validates the configuration, places the tip and returns the bundle.
// Nothing is submitted.
func (b Builder) Build(ctx context.Context) (*Bundle, error) {
	bundle, err := b.build(ctx)
	b.metrics.RecordBundleBuild(string(b.placement), err)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func (b Builder) build(ctx context.Context) (*Bundle, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	maxCount := len(b.txs)
	if b.maxSet {
		maxCount = b.maxCount
	}

	txs := append([]*solana.Transaction(nil), b.txs...)
	var err error
	switch b.placement {
	case PlacementNone:
	case PlacementTransaction, PlacementAuto:
		txs, err = b.appendTipTransaction(ctx, txs)
	case PlacementInstruction:
		txs, err = b.appendTipInstruction(ctx, txs)
	}
	if err != nil {
		return nil, err
	}

	for _, tx := range txs {
		if size, err := blockchain.SerializedSize(tx); err == nil {
			b.metrics.ObserveTransactionSize("bundle", size)
		}
	}

	b.log().Debug("Bundle built",
		zap.String("placement", string(b.placement)),
		zap.Int("transactions", len(txs)),
		zap.Int("max_transaction_count", maxCount))

	return &Bundle{Transactions: txs, MaxTransactionCount: maxCount}, nil
}

func (b Builder) tip(ctx context.Context, withBlockhash bool) (jito.Tip, error) {
	lamports, err := ResolveTipLamports(b.fee, b.tips)
	if err != nil {
		return jito.Tip{}, err
	}

	tip := jito.Tip{
		Payer:    b.payer,
		Lamports: lamports,
		Budget:   b.fee.Budget(),
	}
	if withBlockhash {
		tip.Blockhash, err = b.conn.GetRecentBlockhash(ctx)
		if err != nil {
			return jito.Tip{}, fmt.Errorf("failed to get recent blockhash: %w", err)
		}
	}
	return tip, nil
}

func (b Builder) appendTipTransaction(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	if len(txs)+1 > MaxBundleTransactions {
		return nil, fmt.Errorf("%w: bundle already holds %d transactions", ErrNoSpaceForTip, len(txs))
	}
	tip, err := b.tip(ctx, true)
	if err != nil {
		return nil, err
	}
	out, err := b.relay.AppendTipTransaction(ctx, txs, tip)
	if err != nil {
		return nil, fmt.Errorf("failed to append tip transaction: %w", err)
	}
	b.metrics.ObserveTip(tip.Lamports)
	return out, nil
}

func (b Builder) appendTipInstruction(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	size, err := blockchain.SerializedSize(txs[len(txs)-1])
	if err != nil {
		return nil, err
	}

	if size <= blockchain.MaxTransactionSize-TipInstructionHeadroom {
		tip, err := b.tip(ctx, false)
		if err != nil {
			return nil, err
		}
		out, err := b.relay.AppendTipInstruction(ctx, txs, tip)
		if err == nil {
			b.metrics.ObserveTip(tip.Lamports)
			return out, nil
		}
		if !errors.Is(err, blockchain.ErrTransactionTooLarge) && !errors.Is(err, jito.ErrCannotRecompile) {
			return nil, fmt.Errorf("failed to append tip instruction: %w", err)
		}
		b.log().Debug("Tip instruction cannot be placed in the last transaction", zap.Int("size", size), zap.Error(err))
	}

	if len(txs)+1 > MaxBundleTransactions {
		return nil, fmt.Errorf("%w: last transaction is %d bytes and the bundle is full", ErrNoSpaceForTip, size)
	}
	b.log().Debug("No headroom for tip instruction, falling back to tip transaction",
		zap.Int("last_tx_size", size),
		zap.Int("transactions", len(txs)))
	return b.appendTipTransaction(ctx, txs)
}

func (b Builder) log() *zap.Logger {
	if b.logger == nil {
		return zap.NewNop()
	}
	return b.logger
}
