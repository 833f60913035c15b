package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/config"
	"github.com/JakeFAU/fanbox-archiver/internal/logging"
)

// flagKeys maps archive flags onto config keys.
var flagKeys = map[string]string{
	"creator":     "creator_id",
	"to-id":       "to_id",
	"from-id":     "from_id",
	"out":         "output.dir",
	"render":      "render.enabled",
	"render-mode": "render.mode",
	"screenshot":  "render.screenshot",
	"metrics":     "metrics.addr",
	"dev":         "logging.development",
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive a creator's posts",
		Long: `Fetches the creator feed page by page and archives every post newer
than --to-id. Posts newer than --from-id are skipped. Restricted posts and
posts already in the ledger are skipped.`,
		Args: cobra.NoArgs,
		RunE: runArchiveCommand,
	}
	flags := cmd.Flags()
	flags.String("creator", "", "creator id (CREATOR_ID)")
	flags.String("to-id", "", "stop once a post id at or below this is reached (TO_ID)")
	flags.String("from-id", "", "skip posts with ids above this (FROM_ID)")
	flags.String("out", "", "output directory")
	flags.Bool("render", true, "render posts to PDF with headless Chrome")
	flags.String("render-mode", "", "render the local document or the live page (local|live)")
	flags.Bool("screenshot", false, "also capture a full-page JPEG")
	flags.String("metrics", "", "serve /metrics and /healthz on this address")
	flags.Bool("dev", false, "human readable development logging")
	return cmd
}

// bindFlags binds only the flags the user set so config files and the
// environment still apply otherwise.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func runArchiveCommand(cmd *cobra.Command, _ []string) error {
	v := config.NewViper()
	if err := bindFlags(cmd, v); err != nil {
		return err
	}
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRunner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := r.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	summary, err := r.Run(ctx)
	logger.Info("archive run finished",
		zap.String("creator", cfg.CreatorID),
		zap.Int("pages", summary.Pages),
		zap.Int("archived", summary.Archived),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("archive interrupted: %w", err)
		}
		return fmt.Errorf("run archive: %w", err)
	}
	return nil
}
