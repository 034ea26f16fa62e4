// Command loyaltyctl runs loyalty maintenance tasks against the configured
// database and Redis.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/u9rzm/barinya-bot/internal/app"
	"github.com/u9rzm/barinya-bot/internal/config"
)

var version = "dev"

func main() {
	if err := fang.Execute(context.Background(), rootCmd(config.LoadConfig())); err != nil {
		os.Exit(1)
	}
}

// connector opens the full application stack
type connector func(ctx context.Context, cfg *config.Config) (*app.App, error)

func rootCmd(cfg *config.Config) *cobra.Command {
	return newRootCmd(cfg, app.New)
}

func newRootCmd(cfg *config.Config, connect connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loyaltyctl",
		Version: version,
		Short:   "Maintenance commands for the barinya loyalty backend",
		Long: `loyaltyctl operates on the same Postgres and Redis as the server.
Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		migrateCmd(cfg),
		seedTiersCmd(cfg),
		processOrderCmd(cfg, connect),
		broadcastPromotionCmd(cfg, connect),
		refreshStatsCmd(cfg, connect),
		cacheStatusCmd(cfg, connect),
		reconcileCmd(cfg, connect),
		issueTokenCmd(cfg, connect),
	)
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
