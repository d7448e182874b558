package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List all A/B tests with their status and aggregate interaction counts.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s store.Store) error {
		ctx := context.Background()

		tests, err := s.Tests().List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if len(tests) == 0 {
			fmt.Println("No tests yet. Create one with 'leadpulse create'.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tVARIANTS\tIMPRESSIONS\tCONVERSIONS\tCREATED")

		for _, test := range tests {
			counts, err := s.Interactions().CountByVariant(ctx, test.ID)
			if err != nil {
				return fmt.Errorf("failed to get counts for test %s: %w", test.ID, err)
			}

			totalImpr, totalConv := 0, 0
			for _, c := range counts {
				totalImpr += c.Impressions
				totalConv += c.Conversions
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				test.ID,
				strings.ToUpper(string(test.Status)),
				len(test.Variants),
				totalImpr,
				totalConv,
				test.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
