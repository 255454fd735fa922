package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/leverage-sdk/internal/bundle"
	"github.com/rovshanmuradov/leverage-sdk/internal/config"
)

func init() {
	var (
		file      string
		placement string
		dryRun    bool
	)
	bundleCmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build a tipped bundle from signed transactions and send it",
		Long: "Reads base64-encoded signed transactions (one per line) and submits them as one Jito bundle.\n" +
			"The tip is placed according to tip_placement (none|tx|ix|auto).",
		RunE: func(cmd *cobra.Command, args []string) error {
			txs, err := readTransactions(file)
			if err != nil {
				return err
			}

			runner, cfg, log, err := setup(func(cfg *config.Config) {
				if placement != "" {
					cfg.TipPlacement = placement
				}
			})
			if err != nil {
				return err
			}
			if _, err := bundle.ParsePlacement(cfg.TipPlacement); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runner.Run(ctx, func(ctx context.Context) error {
				if dryRun {
					b, err := runner.Builder().WithTransactions(txs...).Build(ctx)
					if err != nil {
						return err
					}
					encoded, err := b.Encode()
					if err != nil {
						return err
					}
					for _, tx := range encoded {
						fmt.Fprintln(cmd.OutOrStdout(), tx)
					}
					log.Info("Dry run: bundle built", zap.Int("transactions", len(encoded)))
					return nil
				}

				id, err := runner.SubmitBundle(ctx, txs)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	bundleCmd.Flags().StringVarP(&file, "file", "f", "", "File with base64 transactions, one per line (- for stdin)")
	bundleCmd.Flags().StringVar(&placement, "placement", "", "Override tip_placement: none|tx|ix|auto")
	bundleCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the encoded bundle instead of sending it")
	_ = bundleCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(bundleCmd)
}

// readTransactions читает base64 транзакции; пустые строки и строки с # пропускаются
func readTransactions(path string) ([]*solana.Transaction, error) {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transactions file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var txs []*solana.Transaction
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		tx, err := solana.TransactionFromBase64(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid transaction: %w", line, err)
		}
		txs = append(txs, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, bundle.ErrEmptyBundle
	}
	return txs, nil
}
