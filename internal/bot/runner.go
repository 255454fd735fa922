// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/jito"
	"github.com/rovshanmuradov/leverage-sdk/internal/blockchain/solbc"
	"github.com/rovshanmuradov/leverage-sdk/internal/bundle"
	"github.com/rovshanmuradov/leverage-sdk/internal/config"
	"github.com/rovshanmuradov/leverage-sdk/internal/leverage"
	"github.com/rovshanmuradov/leverage-sdk/internal/tipfloor"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/logger"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/metrics"
	"github.com/rovshanmuradov/leverage-sdk/internal/wallet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner wires the config, wallet, RPC pool, Jito relay and tip source together.
type Runner struct {
	logger   *logger.Logger
	config   *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Collector
	wallet   *wallet.Wallet
	conn     *solbc.Client
	relay    *jito.Client
	tips     *tipfloor.Source
	shutdown *ShutdownHandler

	metricsListener atomic.Pointer[net.Listener]
}

// NewRunner builds a Runner from cfg.
func NewRunner(cfg *config.Config, log *logger.Logger) (*Runner, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, err
	}

	var w *wallet.Wallet
	if cfg.WalletFile != "" {
		wallets, err := wallet.LoadWallets(cfg.WalletFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load wallets: %w", err)
		}
		if w, err = wallet.Select(wallets, cfg.WalletName); err != nil {
			return nil, err
		}
	}

	conn, err := solbc.NewClient(cfg.RPCList, cfg.Retries, log.Logger, collector)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		logger:   log,
		config:   cfg,
		registry: registry,
		metrics:  collector,
		wallet:   w,
		conn:     conn,
		relay:    jito.NewClient(cfg.BlockEngineURL, w, log.Logger).WithLookupTables(conn),
		tips: tipfloor.NewSource(tipfloor.Options{
			URL:       cfg.TipFloorURL,
			StreamURL: cfg.TipStreamURL,
		}, log.Logger, collector),
		shutdown: NewShutdownHandler(log.Logger, 0),
	}
	r.shutdown.Add("logger", func(context.Context) error { return log.Sync() })
	return r, nil
}

// Wallet returns the configured wallet, nil when wallet_file is unset.
func (r *Runner) Wallet() *wallet.Wallet { return r.wallet }

// Tips returns the tip pricing source.
func (r *Runner) Tips() *tipfloor.Source { return r.tips }

// Connection returns the ledger connection.
func (r *Runner) Connection() *solbc.Client { return r.conn }

// Builder returns a bundle builder preconfigured from the config.
func (r *Runner) Builder() bundle.Builder {
	b := bundle.New().
		WithRelay(r.relay).
		WithConnection(r.conn).
		WithFee(r.config.BundleFee()).
		WithPlacement(r.config.Placement()).
		WithTipSource(r.tips).
		WithLogger(r.logger.Logger).
		WithMetrics(r.metrics)
	if r.config.MaxBundleTxs > 0 {
		b = b.WithMaxTransactionCount(r.config.MaxBundleTxs)
	}
	if r.wallet != nil {
		b = b.WithPayer(r.wallet.PublicKey)
	}
	return b
}

// Assembler returns a lifecycle assembler for the configured program.
func (r *Runner) Assembler(resolver leverage.AccountResolver) *leverage.Assembler {
	return leverage.NewAssembler(r.config.Program(), resolver, r.logger.WithComponent("leverage"))
}

// SubmitBundle builds a bundle from txs with the configured tip and sends it.
func (r *Runner) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	log := r.logger.WithBundle(string(r.config.Placement()), len(txs))
	done := r.logger.TrackPerformance("submit_bundle")
	defer done()

	b, err := r.Builder().WithTransactions(txs...).Build(ctx)
	if err != nil {
		log.Error("Bundle build failed", zap.Error(err))
		return "", err
	}
	id, err := b.Submit(ctx, r.relay)
	if err != nil {
		log.Error("Bundle submit failed", zap.Error(err))
		return "", err
	}
	log.Info("Bundle accepted", zap.String("bundle_id", id), zap.Int("size", len(b.Transactions)))
	return id, nil
}

// Run starts the tip refresh loop, the optional tip stream and the metrics
// endpoint, runs job and stops everything once job returns or a signal arrives.
// A nil job runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context, job func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if err := r.shutdown.Shutdown(); err != nil {
			r.logger.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	if r.config.BundleFee().Mode == bundle.FeeModeDynamic {
		// dynamic fee: avoid building on floor values while the oracle is reachable
		r.tips.Refresh(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.tips.Run(gctx, r.config.TipRefreshInterval())
		return nil
	})
	if r.config.TipStreamEnabled {
		g.Go(func() error {
			r.tips.Stream(gctx)
			return nil
		})
	}
	if r.config.MetricsAddr != "" {
		if err := r.listenMetrics(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return r.serveMetrics(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		if job == nil {
			<-gctx.Done()
			return nil
		}
		return job(gctx)
	})

	r.logger.Info("Runner started",
		zap.Bool("tip_stream", r.config.TipStreamEnabled),
		zap.String("metrics_addr", r.config.MetricsAddr))
	return g.Wait()
}

// MetricsAddr returns the bound metrics address once Run has started listening.
func (r *Runner) MetricsAddr() string {
	ln := r.metricsListener.Load()
	if ln == nil {
		return ""
	}
	return (*ln).Addr().String()
}

func (r *Runner) listenMetrics() error {
	ln, err := net.Listen("tcp", r.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics_addr: %w", err)
	}
	r.metricsListener.Store(&ln)
	return nil
}

func (r *Runner) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln := *r.metricsListener.Load()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
