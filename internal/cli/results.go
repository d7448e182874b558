package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/experiment"
	"github.com/leadpulse/leadpulse/internal/stats"
	"github.com/leadpulse/leadpulse/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <test-id>",
	Short: "Show detailed results for a test",
	Long:  `Show per-variant conversion rates, confidence intervals, and significance.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	testID := args[0]

	return withStore(func(s store.Store) error {
		ctx := context.Background()
		svc := experiment.NewService(s.Tests(), s.Interactions())

		results, err := svc.Results(ctx, testID)
		if err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}
		if results == nil {
			return fmt.Errorf("test '%s' not found", testID)
		}

		fmt.Printf("TEST: %s\n", results.TestID)
		fmt.Printf("STATUS: %s\n", results.Status)
		fmt.Println()

		fmt.Println("VARIANT           IMPR     CLICKS   CONV     RATE     95% CI")
		fmt.Println(strings.Repeat("─", 68))

		for _, v := range results.Variants {
			indicator := ""
			if v.VariantID == results.BestVariant && len(results.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := "N/A"
			if v.Impressions > 0 {
				lower, upper := stats.WilsonInterval(v.Conversions, v.Impressions)
				ciStr = fmt.Sprintf("[%.1f%%, %.1f%%]", lower*100, upper*100)
			}

			name := v.VariantID
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Printf("%-16s  %-7d  %-7d  %-7d  %-7s  %s%s\n",
				name,
				v.Impressions,
				v.Clicks,
				v.Conversions,
				formatPercent(v.ConversionRate),
				ciStr,
				indicator,
			)
		}

		fmt.Println()
		printSignificance(results)
		return nil
	})
}

// printSignificance compares the leading variant against the control
// (first variant) with a two-proportion z-test.
func printSignificance(results *experiment.Results) {
	if len(results.Variants) < 2 {
		return
	}

	control := results.Variants[0]
	var leading *experiment.VariantResult
	for i := range results.Variants {
		if results.Variants[i].VariantID == results.BestVariant {
			leading = &results.Variants[i]
		}
	}
	if leading == nil || leading.VariantID == control.VariantID {
		fmt.Println("Statistical significance: control is leading; keep collecting data")
		return
	}

	conf := stats.SignificanceTest(
		leading.Conversions, leading.Impressions,
		control.Conversions, control.Impressions,
	) * 100

	switch {
	case conf >= 95:
		fmt.Printf("Statistical significance: %.1f%% confident %q is the winner\n", conf, leading.VariantID)
	case conf >= 90:
		fmt.Printf("Statistical significance: %.1f%% confident %q beats control (not yet significant)\n", conf, leading.VariantID)
	default:
		fmt.Println("Statistical significance: not enough data to determine a winner")
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
