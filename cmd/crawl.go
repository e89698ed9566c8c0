package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

type crawlFlags struct {
	companyID  string
	agentID    string
	pageBudget int
}

// newCrawlCmd crawls one site in the foreground and prints the finished job.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawls and indexes one site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.CrawlOnce(cmd.Context(), crawler.CrawlRequest{
				CompanyID:  flags.companyID,
				AgentID:    flags.agentID,
				RootURL:    args[0],
				PageBudget: flags.pageBudget,
			})
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("print job: %w", err)
			}
			if job.Status != crawler.JobStatusSucceeded {
				return fmt.Errorf("crawl %s: %s", job.Status, job.ErrorText)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.companyID, "company", "default", "company id the chunks are stored under")
	cmd.Flags().StringVar(&flags.agentID, "agent", "default", "agent id the chunks are stored under")
	cmd.Flags().IntVar(&flags.pageBudget, "pages", 0, "maximum pages to visit (0 uses the configured default)")
	return cmd
}
