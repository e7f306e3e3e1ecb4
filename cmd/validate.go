package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newValidateCmd creates the 'validate' subcommand. Loading already
// validates, so reaching RunE means the configuration is usable.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Checks the configuration and prints a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			c := rt.cfg
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:       %s\n", c.Crawler.Name)
			fmt.Fprintf(out, "landing:   %s\n", c.Crawler.LandingURL)
			fmt.Fprintf(out, "mode:      %s (limit %d, max depth %d)\n", c.Crawler.Mode, c.Crawler.Limit, c.Crawler.MaxDepth)
			fmt.Fprintf(out, "fetcher:   %s\n", c.Fetcher.Kind)
			fmt.Fprintf(out, "delay:     %d-%d ms, %g req/s per host\n", c.Delay.MinMs, c.Delay.MaxMs, c.Delay.HostRPS)
			fmt.Fprintf(out, "events:    %s\n", c.Events.Mode)
			fmt.Fprintf(out, "recovery:  %t (%s)\n", c.Recovery.Enabled, c.Recovery.Pointer)
			fmt.Fprintf(out, "storage:   %s\n", c.Storage.Backend)
			fmt.Fprintf(out, "routes:    %d, filters: %d\n", len(c.Routes), len(c.Filters))
			return nil
		},
	}
}
