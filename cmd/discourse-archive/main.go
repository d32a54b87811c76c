package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColtonBarr/chat-langchain/internal/config"
	"github.com/ColtonBarr/chat-langchain/internal/logging"
	"github.com/ColtonBarr/chat-langchain/pkg/archive"
	"github.com/ColtonBarr/chat-langchain/pkg/archiver"
	"github.com/ColtonBarr/chat-langchain/pkg/backfill"
	"github.com/ColtonBarr/chat-langchain/pkg/fetcher"
	"github.com/ColtonBarr/chat-langchain/pkg/renderer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "discourse-archive",
	Short: "Create a basic content archive from a Discourse installation",
	Long: `discourse-archive pulls posts from a Discourse forum's API into a
date-partitioned on-disk archive and assembles a rendered markdown document
per topic, resuming incrementally from the last synced timestamp.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Archive new posts since the last run and render their topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runSync(cmd, cfg)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Render topics referenced by archived posts but not yet rendered",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runBackfill(cmd, cfg)
	},
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("url") {
		cfg.Discourse.BaseURL, _ = cmd.Flags().GetString("url")
	}
	if cmd.Flags().Changed("target-dir") {
		cfg.Archive.Dir, _ = cmd.Flags().GetString("target-dir")
	}
	if cmd.Flags().Changed("debug") {
		cfg.Logging.Debug, _ = cmd.Flags().GetBool("debug")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	root := cfg.Archive.Dir
	for _, dir := range []string{archive.PostsDir, archive.TopicsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	client := fetcher.New(cfg.Discourse.BaseURL, cfg.Fetch, logger)
	if cfg.Fetch.RespectRobots && !client.CheckRobots(ctx, "/posts.json") {
		return fmt.Errorf("robots.txt of %s disallows fetching /posts.json", cfg.Discourse.BaseURL)
	}

	checkpoint, haveCheckpoint, err := archive.LoadCheckpoint(root)
	if err != nil {
		return err
	}
	cutoff := checkpoint.Add(-cfg.Archive.ResyncMargin)
	if haveCheckpoint {
		// Resync over the margin to catch posts edited near the checkpoint.
		logger.Info("detected latest synced post date",
			zap.Time("checkpoint", checkpoint), zap.Time("cutoff", cutoff))
	} else {
		logger.Info("no checkpoint found, archiving full history")
	}

	arch := archiver.New(client, root, cfg.Archive, cfg.Cursor, logger)
	result, err := arch.Run(ctx, cutoff, haveCheckpoint)
	if err != nil {
		logger.Error("archive run failed", zap.Error(err))
		return err
	}

	if !result.Newest.IsZero() {
		logger.Info("writing metadata", zap.Time("last_sync_date", result.Newest))
		if err := archive.SaveCheckpoint(root, result.Newest); err != nil {
			return err
		}
	}

	rend := renderer.New(client, root, cfg.Archive.TopicDelay, logger)
	stats, err := rend.RenderAll(ctx, result.Topics)
	if err != nil {
		logger.Error("rendering failed", zap.Error(err))
		return err
	}

	fmt.Printf("Archived %d posts, rendered %d topics (%d skipped)\n",
		result.Saved, stats.Rendered, stats.Skipped)
	return nil
}

func runBackfill(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	client := fetcher.New(cfg.Discourse.BaseURL, cfg.Fetch, logger)
	if cfg.Fetch.RespectRobots && !client.CheckRobots(ctx, "/raw/") {
		return fmt.Errorf("robots.txt of %s disallows fetching /raw/", cfg.Discourse.BaseURL)
	}

	rend := renderer.New(client, cfg.Archive.Dir, cfg.Archive.BackfillDelay, logger)
	stats, err := backfill.New(cfg.Archive.Dir, rend, logger).Run(ctx)
	if err != nil {
		logger.Error("backfill failed", zap.Error(err))
		return err
	}

	fmt.Printf("Backfill rendered %d topics (%d skipped)\n", stats.Rendered, stats.Skipped)
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(backfillCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().StringP("url", "u", "", "URL of the Discourse server")
	rootCmd.PersistentFlags().StringP("target-dir", "t", "", "Target directory for the archive")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
