// Package main provides the storefront binary: the cart, checkout and order
// engine of the cricket store behind a JSON API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/techTenzen/Cricket/internal/app"
	"github.com/techTenzen/Cricket/internal/catalog"
	"github.com/techTenzen/Cricket/internal/config"
	"github.com/techTenzen/Cricket/internal/logging"
)

const (
	Version = "0.1.0"
	appName = "storefront"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Inventory-aware cart and checkout engine",
		Long: `storefront keeps per-user carts, turns them into orders without
overselling stock, and runs the order lifecycle.

Configuration is read from --config (YAML) and then from environment
variables such as HTTP_PORT, CATALOG_DRIVER, MONGO_URI, REDIS_ADDR,
ORDERS_DATABASE_URL and KAFKA_BROKERS.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(flags), migrateCmd(flags), seedCmd(flags))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

// load builds the configuration: defaults, then the file, then the
// environment, then flags.
func (f *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configPath); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, nil, fmt.Errorf("invalid environment: %w", err)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format).With("service", appName)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if seedPath != "" {
				if err := seed(ctx, a.Catalog, seedPath, logger); err != nil {
					return err
				}
			}

			if err := a.Run(ctx); err != nil {
				return err
			}
			logger.Info("storefront stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "Load this catalog file before serving")
	return cmd
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog and order schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			return app.Migrate(cfg, logger)
		},
	}
}

func seedCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or replace catalog products from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Catalog.Driver == config.DriverMemory {
				return fmt.Errorf("seeding the memory catalog has no effect, use serve --seed")
			}
			if err := app.Migrate(cfg, logger); err != nil {
				return err
			}

			store, err := catalog.NewSQLStore(cfg.Catalog.Driver, cfg.Catalog.DSN)
			if err != nil {
				return err
			}
			defer store.Close()
			return seed(cmd.Context(), store, file, logger)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalog file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func seed(ctx context.Context, store catalog.Store, path string, logger *slog.Logger) error {
	products, err := catalog.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := catalog.Seed(ctx, store, products); err != nil {
		return err
	}
	logger.Info("catalog seeded", "file", path, "products", len(products))
	return nil
}
