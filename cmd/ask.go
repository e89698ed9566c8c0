package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

func newAskCmd() *cobra.Command {
	var companyID string
	var showSources, searchOnly bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answers a question from indexed content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if searchOnly {
				results, err := appInstance.Search(cmd.Context(), companyID, question)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				for _, r := range results {
					fmt.Fprintf(out, "[%.2f] %s\n%s\n\n", r.Score, sourceLabel(r), r.Text)
				}
				return nil
			}
			ans, err := appInstance.Answer(cmd.Context(), companyID, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out, ans.Text)
			if showSources {
				for _, src := range ans.Sources {
					fmt.Fprintf(out, "  [%.2f] %s\n", src.Score, sourceLabel(src))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "default", "company id to search")
	cmd.Flags().BoolVar(&showSources, "sources", false, "print the passages the answer was grounded on")
	cmd.Flags().BoolVar(&searchOnly, "search-only", false, "print ranked passages without asking the LLM")
	return cmd
}

func sourceLabel(r crawler.SearchResult) string {
	if r.IsCustomKnowledge {
		return "knowledge: " + r.Title
	}
	return r.URL
}
