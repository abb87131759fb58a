package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/SegmentMailer/internal/store"
	"github.com/Mutter0815/SegmentMailer/pkg/config"
	"github.com/Mutter0815/SegmentMailer/pkg/db"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/services/crmctl/seed"
)

var rootCmd = &cobra.Command{
	Use:           "crmctl",
	Short:         "Database maintenance for the campaign services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the customers, campaigns and delivery_logs tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logx.L().Infow("migrate_done")
			return nil
		})
	},
}

var (
	seedCount int
	seedValue uint64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert random demo customers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount <= 0 {
			return fmt.Errorf("--count must be positive")
		}
		if seedValue == 0 {
			seedValue = uint64(time.Now().UnixNano())
		}
		customers := seed.Customers(seedCount, rand.New(rand.NewPCG(seedValue, seedValue>>1)), time.Now())

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			n, err := st.InsertCustomers(ctx, customers)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			logx.L().Infow("seed_done", "requested", seedCount, "inserted", n, "seed", seedValue)
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of customers to generate")
	seedCmd.Flags().Uint64Var(&seedValue, "seed", 0, "random seed (0 picks one)")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func withStore(ctx context.Context, fn func(ctx context.Context, st *store.Store) error) error {
	config.MustLoadCLI()
	sqlDB, err := db.Open(config.CLI.DBDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return fn(ctx, store.New(sqlDB))
}

func main() {
	logx.Init()
	defer logx.Sync()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logx.L().Errorw("crmctl_error", "error", err)
		logx.Sync()
		os.Exit(1)
	}
}
