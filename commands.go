package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"boolpress/cache"
	"boolpress/common"
	"boolpress/database"
	"boolpress/slug"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "boolpress",
	Short: "Boolpress blog back-office",
	Long: `Boolpress serves the blog admin back-office (posts, users) and the
public post pages.

Configuration is read from an optional YAML file (--config), a .env file and
BOOLPRESS_* environment variables.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := newServer(ctx, cfg)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := common.ConnectDb(cfg.Database)
		if err != nil {
			return err
		}
		return database.RunMigrations(db)
	},
}

var slugCmd = &cobra.Command{
	Use:   "slug <title...>",
	Short: "Print the base slug derived from a title",
	Example: `  boolpress slug "A great article"     # a-great-article`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := slug.Make(strings.Join(args, " "))
		if base == "" {
			base = slug.Fallback
		}
		fmt.Fprintln(cmd.OutOrStdout(), base)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "cache-clear",
	Short: "Remove cached public post pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		removed, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxAge).Purge(0)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached pages\n", removed)
		return nil
	},
}

func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	common.SetupLogger(cfg.Log)
	log.Debug().Str("config", configPath).Msg("configuration loaded")
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd, migrateCmd, slugCmd, cacheClearCmd)
}
