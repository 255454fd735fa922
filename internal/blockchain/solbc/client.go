// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/metrics"
	"go.uber.org/zap"
)

// Client – тонкий адаптер над пулом RPC-узлов. Используется только на чтение:
// blockhash, состояние аккаунтов и симуляция.
type Client struct {
	rpc    *rpc.RPCClient
	logger *zap.Logger
}

var (
	ErrAccountNotFound = errors.New("account not found")
)

// IsAccountNotFoundError проверяет, является ли ошибка "not found"
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, solanarpc.ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// NewClient создаёт клиент поверх списка RPC URL.
func NewClient(urls []string, retries int, logger *zap.Logger, collector *metrics.Collector) (*Client, error) {
	pool, err := rpc.NewClient(urls, retries, logger, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC pool: %w", err)
	}
	return &Client{
		rpc:    pool,
		logger: logger.Named("solbc-client"),
	}, nil
}

// GetRecentBlockhash получает последний blockhash.
func (c *Client) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		c.logger.Error("GetRecentBlockhash error", zap.Error(err))
		return solana.Hash{}, err
	}
	if result == nil || result.Value == nil {
		return solana.Hash{}, rpc.ErrInvalidResponse
	}
	return result.Value.Blockhash, nil
}

// GetAccountInfo получает информацию об аккаунте.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	result, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		if IsAccountNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, pubkey)
		}
		return nil, err
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, pubkey)
	}
	return result, nil
}

// GetMultipleAccounts получает информацию о нескольких аккаунтах за один запрос
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*solanarpc.GetMultipleAccountsResult, error) {
	if len(pubkeys) == 0 {
		return &solanarpc.GetMultipleAccountsResult{}, nil
	}

	res, err := c.rpc.GetMultipleAccounts(ctx, pubkeys)
	if err != nil {
		c.logger.Debug("GetMultipleAccounts error",
			zap.Int("count", len(pubkeys)),
			zap.Error(err))
		return nil, err
	}
	return res, nil
}

// SimulateTransaction прогоняет транзакцию через simulateTransaction и
// возвращает ошибку, если симуляция завершилась неудачно.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*solanarpc.SimulateTransactionResult, error) {
	res, err := c.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("simulation request failed: %w", err)
	}
	if res == nil || res.Value == nil {
		return nil, rpc.ErrInvalidResponse
	}
	if res.Value.Err != nil {
		c.logger.Debug("Simulation failed",
			zap.Any("error", res.Value.Err),
			zap.Strings("logs", res.Value.Logs))
		return res.Value, fmt.Errorf("simulation failed: %v", res.Value.Err)
	}
	return res.Value, nil
}
