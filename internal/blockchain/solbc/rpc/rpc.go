// internal/blockchain/solbc/rpc/rpc.go
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/metrics"
	"go.uber.org/zap"
)

// Основные константы
const (
	defaultRetryAttempts = 3
	retryInitialDelay    = 200 * time.Millisecond
	retryMaxDelay        = 2 * time.Second
	reqTimeout           = 10 * time.Second
)

// RPCClient распределяет запросы по нескольким узлам (round-robin) и повторяет неудачные.
type RPCClient struct {
	nodes    []*solanarpc.Client
	urls     []string
	current  int
	attempts uint
	mu       sync.Mutex
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewClient создает новый RPC клиент. collector может быть nil.
func NewClient(urls []string, retries int, logger *zap.Logger, collector *metrics.Collector) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, ErrNoActiveClients
	}
	if retries <= 0 {
		retries = defaultRetryAttempts
	}

	nodes := make([]*solanarpc.Client, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}

	return &RPCClient{
		nodes:    nodes,
		urls:     urls,
		attempts: uint(retries),
		logger:   logger.Named("rpc-client"),
		metrics:  collector,
	}, nil
}

func (c *RPCClient) next() (*solanarpc.Client, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, url := c.nodes[c.current], c.urls[c.current]
	c.current = (c.current + 1) % len(c.nodes)
	return node, url
}

// ExecuteWithRetry выполняет RPC-запрос, переключая узел на каждой попытке.
func (c *RPCClient) ExecuteWithRetry(ctx context.Context, method string, operation func(*solanarpc.Client) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialDelay
	policy.MaxInterval = retryMaxDelay

	start := time.Now()
	defer func() { c.metrics.RecordRPCLatency(method, time.Since(start)) }()

	attempt := 0
	_, err := backoff.Retry(timeoutCtx, func() (struct{}, error) {
		attempt++
		node, url := c.next()
		if err := operation(node); err != nil {
			c.logger.Debug("RPC request failed, trying next node",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return struct{}{}, backoff.Permanent(err)
			}
			wrapped := NewError(err, url, method)
			if errors.Is(err, solanarpc.ErrNotFound) {
				// отсутствующий аккаунт не появится на другом узле
				return struct{}{}, backoff.Permanent(wrapped)
			}
			if errors.Is(wrapped, ErrRateLimit) {
				c.logger.Warn("RPC node is rate limiting", zap.String("url", url), zap.String("method", method))
			}
			return struct{}{}, wrapped
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(c.attempts))
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrTimeout
		}
		return err
	}
	return nil
}

// GetAccountInfo получает информацию об аккаунте
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	var result *solanarpc.GetAccountInfoResult
	err := c.ExecuteWithRetry(ctx, "getAccountInfo", func(client *solanarpc.Client) error {
		var err error
		result, err = client.GetAccountInfoWithOpts(ctx, pubkey, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	return result, err
}

// GetMultipleAccounts получает несколько аккаунтов одним запросом
func (c *RPCClient) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*solanarpc.GetMultipleAccountsResult, error) {
	var result *solanarpc.GetMultipleAccountsResult
	err := c.ExecuteWithRetry(ctx, "getMultipleAccounts", func(client *solanarpc.Client) error {
		var err error
		result, err = client.GetMultipleAccountsWithOpts(ctx, pubkeys, &solanarpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	return result, err
}

// GetLatestBlockhash получает последний blockhash
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (*solanarpc.GetLatestBlockhashResult, error) {
	var result *solanarpc.GetLatestBlockhashResult
	err := c.ExecuteWithRetry(ctx, "getLatestBlockhash", func(client *solanarpc.Client) error {
		var err error
		result, err = client.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		return err
	})
	return result, err
}

// SimulateTransaction симулирует транзакцию без проверки подписей
func (c *RPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*solanarpc.SimulateTransactionResponse, error) {
	var result *solanarpc.SimulateTransactionResponse
	err := c.ExecuteWithRetry(ctx, "simulateTransaction", func(client *solanarpc.Client) error {
		var err error
		result, err = client.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
			SigVerify:              false,
			Commitment:             solanarpc.CommitmentConfirmed,
			ReplaceRecentBlockhash: true,
		})
		return err
	})
	return result, err
}
