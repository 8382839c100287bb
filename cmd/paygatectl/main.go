package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arbfeed/paygate/internal/config"
	"github.com/arbfeed/paygate/internal/logging"
	"github.com/arbfeed/paygate/internal/middleware"
	"github.com/arbfeed/paygate/internal/services"
	"github.com/arbfeed/paygate/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "paygatectl",
		Short: "Operator tool for the paygate payment gateway",
		Long:  `Manage datasets, inspect entitlements and reconcile settled payments for a paygate deployment.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.toml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(datasetCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(hashKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

// loadConfig reads the config file, falling back to defaults when it is
// missing, then applies .env and environment overrides
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		if _, statErr := os.Stat(configPath()); statErr == nil {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cliLogger(cfg *config.Config) *logrus.Logger {
	log := logging.New(cfg.Logging)
	log.SetOutput(os.Stderr)
	return log
}

func openDB(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	db, err := storage.New(ctx, cfg.Database.DatabaseURL(), cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			env, _ := cmd.Flags().GetString("environment")

			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Environment = env
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Printf("Config written to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	cmd.Flags().String("environment", "development", "Deployment environment")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(dir); err != nil {
				return err
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Migrations directory (default is the embedded schema)")
	return cmd
}

func withEntitlements(cmd *cobra.Command, fn func(cfg *config.Config, svc *services.EntitlementService, log *logrus.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)

	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cfg, services.NewEntitlementService(db, nil, 0, log), log)
}

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Publish and inspect shared datasets",
	}

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a dataset from a JSON array file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			items, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}

			return withEntitlements(cmd, func(_ *config.Config, svc *services.EntitlementService, _ *logrus.Logger) error {
				dataset, err := svc.PublishDataset(cmd.Context(), items, ttl)
				if err != nil {
					return err
				}
				fmt.Printf("Dataset %s published, expires %s\n", dataset.ID, dataset.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	publishCmd.Flags().String("file", "", "JSON file containing an array of items (required)")
	publishCmd.Flags().Duration("ttl", 24*time.Hour, "How long the dataset stays current")
	publishCmd.MarkFlagRequired("file")

	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the dataset currently being sold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEntitlements(cmd, func(_ *config.Config, svc *services.EntitlementService, _ *logrus.Logger) error {
				dataset, err := svc.LatestActiveDataset(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(dataset)
			})
		},
	}

	cmd.AddCommand(publishCmd, latestCmd)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <wallet>",
		Short: "Print the entitlement status of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEntitlements(cmd, func(_ *config.Config, svc *services.EntitlementService, _ *logrus.Logger) error {
				status, err := svc.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote <wallet>",
		Short: "Request payment requirements for a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("bypass-token")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := cliLogger(cfg)

			selector := services.NewStrategySelector(cfg.IsProduction(), cfg.DevBypass.Secret)
			svc := services.NewPaymentService(services.NewFacilitatorClient(cfg.Facilitator), selector, cfg.Payment, cfg.DevBypass, log)

			result, err := svc.Start(cmd.Context(), args[0], token)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().String("bypass-token", "", "Dev bypass token (non-production only)")
	return cmd
}

func withReconciliation(cmd *cobra.Command, needDB bool, fn func(svc *services.ReconciliationService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)

	journal, err := storage.OpenJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	var entitlements *services.EntitlementService
	if needDB {
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		entitlements = services.NewEntitlementService(db, nil, 0, log)
	}

	return fn(services.NewReconciliationService(journal, entitlements, log))
}

func parseEntryID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", arg)
	}
	return id, nil
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Handle payments that settled without an entitlement",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReconciliation(cmd, false, func(svc *services.ReconciliationService) error {
				entries, err := svc.ListPending(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Printf("Pending entries (%d):\n", len(entries))
				fmt.Printf("%-6s %-42s %-68s %-20s\n", "ID", "WALLET", "TX REFERENCE", "CREATED")
				fmt.Println(strings.Repeat("-", 138))
				for _, e := range entries {
					fmt.Printf("%-6d %-42s %-68s %-20s\n", e.ID, e.WalletAddress, e.TxReference, e.CreatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Retry the entitlement grant for an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			return withReconciliation(cmd, true, func(svc *services.ReconciliationService) error {
				ent, err := svc.Replay(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("Entry %d resolved, entitlement %s valid until %s\n", id, ent.ID, ent.ValidUntil.Format(time.RFC3339))
				return nil
			})
		},
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an entry resolved without granting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			return withReconciliation(cmd, false, func(svc *services.ReconciliationService) error {
				if err := svc.Resolve(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Printf("Entry %d resolved.\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, replayCmd, resolveCmd)
	return cmd
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash of an admin API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
