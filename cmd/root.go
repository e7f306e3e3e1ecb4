// Package cmd defines and implements the CLI commands for the webwalker
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/app"
	"github.com/JakeFAU/webwalker/internal/config"
	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/logging"
)

// sessionKeyType is the key for storing the loaded session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// session is what every subcommand needs before it does anything.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// App is the part of app.App the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context, landingURL string, consume func(*crawler.Resource)) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webwalker",
		Short: "Walks a website from a landing page and reports every page it reaches.",
		Long: `webwalker crawls a site breadth- or depth-first from a landing URL.
Each page goes through a chain of filters and hooks, progress is published as
events, and an interrupted crawl resumes from its last backup.`,
		SilenceUsage: true,

		// Config and logger are loaded once here, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(sessionKey).(*session)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the crawl, which
// then stops abnormally and leaves a backup to resume from.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
