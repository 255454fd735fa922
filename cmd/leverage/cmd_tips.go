package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/leverage-sdk/internal/bundle"
	"github.com/rovshanmuradov/leverage-sdk/internal/config"
	"github.com/rovshanmuradov/leverage-sdk/internal/tipfloor"
)

type tipView struct {
	Time     time.Time         `json:"time"`
	Floor    bool              `json:"floor"`
	P25      decimal.Decimal   `json:"p25"`
	P50      decimal.Decimal   `json:"p50"`
	P75      decimal.Decimal   `json:"p75"`
	P95      decimal.Decimal   `json:"p95"`
	P99      decimal.Decimal   `json:"p99"`
	EMA50    decimal.Decimal   `json:"ema50"`
	Lamports map[string]uint64 `json:"lamports"`
}

func newTipView(s tipfloor.Snapshot) tipView {
	lamports := make(map[string]uint64, 3)
	for _, speed := range []bundle.Speed{bundle.SpeedNormal, bundle.SpeedFast, bundle.SpeedTurbo} {
		fee := bundle.FeeConfig{Mode: bundle.FeeModeDynamic, Speed: speed}
		if v, err := bundle.ResolveTipLamports(fee, staticSnapshot(s)); err == nil {
			lamports[string(speed)] = v
		}
	}
	return tipView{
		Time: s.Time, Floor: s.IsFloor(),
		P25: s.P25, P50: s.P50, P75: s.P75, P95: s.P95, P99: s.P99, EMA50: s.EMA50,
		Lamports: lamports,
	}
}

type staticSnapshot tipfloor.Snapshot

func (s staticSnapshot) Tips() tipfloor.Snapshot { return tipfloor.Snapshot(s) }

func printSnapshot(w io.Writer, s tipfloor.Snapshot) error {
	out, err := sonic.ConfigStd.MarshalIndent(newTipView(s), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func init() {
	var (
		watch  bool
		stream bool
	)
	tipsCmd := &cobra.Command{
		Use:   "tips",
		Short: "Show the current Jito tip floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, cfg, _, err := setup(func(cfg *config.Config) {
				if stream {
					cfg.TipStreamEnabled = true
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if !watch {
				snapshot, _ := runner.Tips().Refresh(ctx)
				return printSnapshot(cmd.OutOrStdout(), snapshot)
			}

			return runner.Run(ctx, func(ctx context.Context) error {
				ticker := time.NewTicker(cfg.TipRefreshInterval())
				defer ticker.Stop()
				var last time.Time
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						s := runner.Tips().Tips()
						if s.IsFloor() || s.Time.Equal(last) {
							continue
						}
						last = s.Time
						if err := printSnapshot(cmd.OutOrStdout(), s); err != nil {
							return err
						}
					}
				}
			})
		},
	}
	tipsCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing new snapshots until interrupted")
	tipsCmd.Flags().BoolVar(&stream, "stream", false, "Use the websocket tip stream in addition to polling")
	rootCmd.AddCommand(tipsCmd)
}
