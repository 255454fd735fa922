// internal/blockchain/jito/client.go
package jito

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/leverage-sdk/internal/wallet"
	"go.uber.org/zap"
)

const (
	DefaultBlockEngineURL = "https://mainnet.block-engine.jito.wtf"
	bundlesPath           = "/api/v1/bundles"
)

// fallbackTipAccounts are the mainnet tip accounts, used when getTipAccounts fails.
var fallbackTipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// FallbackTipAccounts returns a copy of the built-in tip account list.
func FallbackTipAccounts() []solana.PublicKey {
	return append([]solana.PublicKey(nil), fallbackTipAccounts...)
}

// Tip describes one tip transfer.
type Tip struct {
	Payer     solana.PublicKey
	Lamports  uint64
	Blockhash solana.Hash          // used only for a dedicated tip transaction
	Budget    computebudget.Config // used only for a dedicated tip transaction
}

// AccountFetcher reads address lookup table accounts.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Client talks to a Jito block engine and builds tip legs for bundles.
type Client struct {
	rpc    jsonrpc.RPCClient
	url    string
	signer *wallet.Wallet
	logger *zap.Logger
	tables AccountFetcher

	mu          sync.Mutex
	tipAccounts []solana.PublicKey
}

// NewClient creates a block engine client. signer signs tip legs; it may be nil
// when the client is only used to send already signed bundles.
func NewClient(blockEngineURL string, signer *wallet.Wallet, logger *zap.Logger) *Client {
	if blockEngineURL == "" {
		blockEngineURL = DefaultBlockEngineURL
	}
	endpoint := strings.TrimRight(blockEngineURL, "/")
	if !strings.HasSuffix(endpoint, bundlesPath) {
		endpoint += bundlesPath
	}
	return &Client{
		rpc:    jsonrpc.NewClient(endpoint),
		url:    endpoint,
		signer: signer,
		logger: logger.Named("jito"),
	}
}

// WithLookupTables lets AppendTipInstruction load the lookup tables of v0
// transactions that arrive without them (e.g. decoded from base64).
func (c *Client) WithLookupTables(fetcher AccountFetcher) *Client {
	c.tables = fetcher
	return c
}

// SendBundle submits base64-encoded transactions and returns the bundle id.
func (c *Client) SendBundle(ctx context.Context, encoded []string) (string, error) {
	if len(encoded) == 0 {
		return "", ErrEmptyBundle
	}

	var bundleID string
	params := []interface{}{encoded, map[string]string{"encoding": "base64"}}
	if err := c.rpc.CallForInto(ctx, &bundleID, "sendBundle", params); err != nil {
		return "", &Error{Err: err, URL: c.url, Method: "sendBundle"}
	}

	c.logger.Info("Bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(encoded)))
	return bundleID, nil
}

// GetTipAccounts returns the block engine's tip accounts. The first successful
// answer is cached; on failure the built-in mainnet list is returned.
func (c *Client) GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tipAccounts) > 0 {
		return c.tipAccounts, nil
	}

	var raw []string
	if err := c.rpc.CallForInto(ctx, &raw, "getTipAccounts", nil); err != nil {
		c.logger.Warn("getTipAccounts failed, using built-in tip accounts", zap.Error(err))
		return FallbackTipAccounts(), nil
	}

	accounts := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			c.logger.Warn("Skipping malformed tip account", zap.String("account", s), zap.Error(err))
			continue
		}
		accounts = append(accounts, pk)
	}
	if len(accounts) == 0 {
		c.logger.Warn("getTipAccounts returned no usable accounts, using built-in tip accounts")
		return FallbackTipAccounts(), nil
	}

	c.tipAccounts = accounts
	return accounts, nil
}

// RandomTipAccount picks one tip account uniformly. Spreading tips over the
// accounts avoids write-lock contention on a single one.
func (c *Client) RandomTipAccount(ctx context.Context) (solana.PublicKey, error) {
	accounts, err := c.GetTipAccounts(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(accounts) == 0 {
		return solana.PublicKey{}, ErrNoTipAccounts
	}
	return accounts[rand.IntN(len(accounts))], nil
}

// TipInstruction builds a system transfer of tip.Lamports from tip.Payer to a tip account.
func (c *Client) TipInstruction(ctx context.Context, tip Tip) (solana.Instruction, error) {
	account, err := c.RandomTipAccount(ctx)
	if err != nil {
		return nil, err
	}
	ix, err := system.NewTransferInstruction(tip.Lamports, tip.Payer, account).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build tip transfer: %w", err)
	}
	return ix, nil
}

// AppendTipTransaction returns txs followed by a dedicated tip transaction
// paid and signed by the payer.
func (c *Client) AppendTipTransaction(ctx context.Context, txs []*solana.Transaction, tip Tip) ([]*solana.Transaction, error) {
	transfer, err := c.TipInstruction(ctx, tip)
	if err != nil {
		return nil, err
	}
	budget, err := computebudget.BuildInstructions(tip.Budget)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute budget instructions: %w", err)
	}

	tipTx, err := solana.NewTransaction(
		append(budget, transfer),
		tip.Blockhash,
		solana.TransactionPayer(tip.Payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tip transaction: %w", err)
	}
	if err := c.sign(tipTx); err != nil {
		return nil, err
	}

	c.logger.Debug("Appended tip transaction",
		zap.Uint64("lamports", tip.Lamports),
		zap.Int("bundle_size", len(txs)+1))

	out := make([]*solana.Transaction, 0, len(txs)+1)
	out = append(out, txs...)
	return append(out, tipTx), nil
}

// AppendTipInstruction returns txs with a tip transfer appended to the last
// transaction. The last transaction is recompiled with its original blockhash
// and address tables and signed again, so every signer must be the relay's
// wallet. Returns blockchain.ErrTransactionTooLarge when the result does not
// fit and ErrCannotRecompile when the transaction cannot be rebuilt.
func (c *Client) AppendTipInstruction(ctx context.Context, txs []*solana.Transaction, tip Tip) ([]*solana.Transaction, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBundle
	}
	last := txs[len(txs)-1]
	if len(last.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: transaction has no account keys", ErrCannotRecompile)
	}
	if err := c.checkSigners(last); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotRecompile, err)
	}

	// work on a copy: address tables can be set only once and must not leak into the caller's transaction
	msg := last.Message
	msg.AccountKeys = append(solana.PublicKeySlice(nil), last.Message.AccountKeys...)
	tables := last.Message.GetAddressTables()
	if len(tables) == 0 && len(msg.AddressTableLookups) > 0 {
		var err error
		if tables, err = c.loadTables(ctx, msg.AddressTableLookups.GetTableIDs()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCannotRecompile, err)
		}
		if err := msg.SetAddressTables(tables); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCannotRecompile, err)
		}
	}

	ixs, err := decompile(&msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotRecompile, err)
	}
	transfer, err := c.TipInstruction(ctx, tip)
	if err != nil {
		return nil, err
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(msg.AccountKeys[0])}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tipped, err := solana.NewTransaction(append(ixs, transfer), msg.RecentBlockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotRecompile, err)
	}

	if _, err := blockchain.CheckSize(tipped); err != nil {
		return nil, err
	}
	if err := c.sign(tipped); err != nil {
		return nil, err
	}

	c.logger.Debug("Appended tip instruction",
		zap.Uint64("lamports", tip.Lamports),
		zap.Int("instructions", len(ixs)+1),
		zap.Int("lookup_tables", len(tables)))

	out := make([]*solana.Transaction, len(txs))
	copy(out, txs)
	out[len(out)-1] = tipped
	return out, nil
}

// loadTables fetches and decodes the given lookup tables.
func (c *Client) loadTables(ctx context.Context, ids solana.PublicKeySlice) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	if c.tables == nil {
		return nil, fmt.Errorf("address lookup tables are not resolved and no account fetcher is set")
	}
	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(ids))
	for _, id := range ids {
		info, err := c.tables.GetAccountInfo(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch lookup table %s: %w", id, err)
		}
		state, err := addresslookuptable.DecodeAddressLookupTableState(info.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("failed to decode lookup table %s: %w", id, err)
		}
		tables[id] = state.Addresses
	}
	return tables, nil
}

func (c *Client) sign(tx *solana.Transaction) error {
	if err := c.checkSigners(tx); err != nil {
		return err
	}
	return c.signer.SignTransaction(tx)
}

func (c *Client) checkSigners(tx *solana.Transaction) error {
	if c.signer == nil {
		return fmt.Errorf("%w: relay has no wallet", ErrMissingSigner)
	}
	for _, key := range tx.Message.Signers() {
		if !key.Equals(c.signer.PublicKey) {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
	}
	return nil
}

// decompile turns a compiled message back into instructions.
func decompile(msg *solana.Message) ([]solana.Instruction, error) {
	ixs := make([]solana.Instruction, 0, len(msg.Instructions)+1)
	for i := range msg.Instructions {
		compiled := &msg.Instructions[i]
		programID, err := msg.Program(compiled.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: failed to resolve program: %w", i, err)
		}
		accounts, err := compiled.ResolveInstructionAccounts(msg)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: failed to resolve accounts: %w", i, err)
		}
		ixs = append(ixs, solana.NewInstruction(programID, accounts, compiled.Data))
	}
	return ixs, nil
}
