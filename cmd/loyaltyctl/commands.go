package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/database"
	"github.com/u9rzm/barinya-bot/internal/database/migrations"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

func migrateCmd(cfg *config.Config) *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if rollback {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rolled back the last migration")
				return nil
			}
			if err := migrations.RunMigrations(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "undo the most recent migration instead")
	return cmd
}

func seedTiersCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "seed-tiers FILE",
		Short:   "Upsert tiers from a TOML or YAML file",
		Example: "  loyaltyctl seed-tiers tiers.toml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.InitDB(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close(db)

			tiers := tier.NewTierService(db)
			n, err := tiers.SeedFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := tiers.EnsureConfigured(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d tiers from %s\n", n, args[0])
			return nil
		},
	}
}

func processOrderCmd(cfg *config.Config, connect connector) *cobra.Command {
	var direct bool

	cmd := &cobra.Command{
		Use:   "process-order ORDER_ID",
		Short: "Complete a PENDING order and award its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q: %w", args[0], err)
			}

			if direct {
				cfg.Notifications.Mode = "direct"
			}
			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Rewards.ProcessOrderRewards(cmd.Context(), orderID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "deliver notifications inline instead of through the job queue")
	return cmd
}

func broadcastPromotionCmd(cfg *config.Config, connect connector) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast-promotion PROMOTION_ID",
		Short: "Announce a promotion to every active user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			promotionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid promotion id %q: %w", args[0], err)
			}

			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Promotions.BroadcastPromotion(cmd.Context(), promotionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func refreshStatsCmd(cfg *config.Config, connect connector) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-stats",
		Short: "Recompute every cached statistics key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.Scheduler.RefreshNow(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			for key, ok := range results {
				if !ok {
					return fmt.Errorf("refresh of %s failed", key)
				}
			}
			return nil
		},
	}
}

func cacheStatusCmd(cfg *config.Config, connect connector) *cobra.Command {
	return &cobra.Command{
		Use:   "cache-status",
		Short: "Show cached statistics keys and their remaining TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Statistics.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func reconcileCmd(cfg *config.Config, connect connector) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored balances with ledger sums",
		Long:  "Lists users whose balance disagrees with the sum of their ledger entries. Exits non-zero when any drift is found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			drifts, err := a.Ledger.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), drifts); err != nil {
				return err
			}
			if len(drifts) > 0 {
				return fmt.Errorf("%d balances drift from the ledger", len(drifts))
			}
			return nil
		},
	}
}

func issueTokenCmd(cfg *config.Config, connect connector) *cobra.Command {
	var telegramID int64
	var admin bool

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue an access token for an existing user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if telegramID <= 0 {
				return fmt.Errorf("--telegram-id is required")
			}

			a, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Users.GetUserByTelegramID(cmd.Context(), telegramID)
			if err != nil {
				return err
			}

			isAdmin := admin || u.IsAdmin || cfg.Security.IsAdmin(u.TelegramID)
			token, expiresAt, err := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration).GenerateToken(u.ID, u.TelegramID, isAdmin)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"user_id":    u.ID,
				"token":      token,
				"expires_at": expiresAt,
				"is_admin":   isAdmin,
			})
		},
	}
	cmd.Flags().Int64Var(&telegramID, "telegram-id", 0, "Telegram ID of the user")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights in the token")
	return cmd
}
