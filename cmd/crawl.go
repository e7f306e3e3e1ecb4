package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/logging"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl and prints
// the address of every page it yields.
func newCrawlCmd() *cobra.Command {
	var landingURL string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a crawl",
		Long: `Runs a crawl from the configured landing URL, or resumes the last
crawl of the same name when it stopped abnormally.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, landingURL)
		},
	}
	cmd.Flags().StringVar(&landingURL, "landing-url", "", "override crawler.landing_url")
	return cmd
}

func runCrawl(cmd *cobra.Command, landingURL string) (err error) {
	rt, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger
	defer func() {
		if serr := logging.Sync(logger); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	appInstance, err := newApp(cmd.Context(), rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize crawl services: %w", err)
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			logger.Warn("close crawl services", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()

	out := cmd.OutOrStdout()
	yielded := 0
	runErr := appInstance.Run(cmd.Context(), landingURL, func(r *crawler.Resource) {
		yielded++
		fmt.Fprintln(out, r.URL)
	})
	if runErr != nil {
		return fmt.Errorf("run crawl: %w", runErr)
	}
	logger.Info("crawl finished", zap.Int("yielded", yielded))
	return nil
}
