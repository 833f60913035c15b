// Package cmd defines the CLI for the fanbox-archiver executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/app"
	"github.com/JakeFAU/fanbox-archiver/internal/config"
	"github.com/JakeFAU/fanbox-archiver/internal/crawl"
)

// runner is the part of *app.App the archive command drives.
type runner interface {
	Run(ctx context.Context) (crawl.Summary, error)
	Close(ctx context.Context) error
}

// newRunner builds the application. It is a variable so tests can swap in a fake.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fanbox-archiver",
		Short: "Archives a fanbox creator's posts to local disk.",
		Long: `fanbox-archiver walks a creator's post feed from newest to oldest and
writes each post as an HTML document with its media, optionally rendering
a PDF through headless Chrome.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newArchiveCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
