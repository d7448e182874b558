package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants      string
		page          string
		position      string
		trafficPct    int
		minSample     int
		primaryMetric string
		draft         bool
	)

	cmd := &cobra.Command{
		Use:   "create <test-id>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test with the given id and variants.

Variants are "id=headline" pairs; a bare name is both id and headline.
Without --variants the command prompts interactively.

Examples:
  leadpulse create hero-cta --variants "control=Book a call,urgent=Book today"
  leadpulse create pricing-banner --variants "A,B" --page pricing --position banner
  leadpulse create hero-cta`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			if variants == "" {
				prompt := promptui.Prompt{
					Label: "Variants (comma-separated, id=headline pairs)",
					Validate: func(input string) error {
						if len(strings.Split(input, ",")) < 2 {
							return fmt.Errorf("need at least 2 variants")
						}
						return nil
					},
				}
				entered, err := prompt.Run()
				if err != nil {
					return err
				}
				variants = entered
			}

			variantList, err := parseVariants(variants)
			if err != nil {
				return err
			}
			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			status := store.StatusRunning
			if draft {
				status = store.StatusDraft
			}

			return withStore(func(s store.Store) error {
				now := time.Now()
				t := &store.Test{
					ID:              testID,
					Variants:        variantList,
					Status:          status,
					TrafficPct:      trafficPct,
					MinSampleSize:   minSample,
					ConfidenceLevel: 0.95,
					PrimaryMetric:   primaryMetric,
					Page:            page,
					Position:        position,
					CreatedAt:       now,
					UpdatedAt:       now,
				}
				if err := s.Tests().Create(context.Background(), t); err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				fmt.Printf("Created test '%s' (%s) with %d variants:\n", t.ID, t.Status, len(t.Variants))
				for _, v := range t.Variants {
					fmt.Printf("  %s: %s\n", v.ID, v.Payload["headline"])
				}
				if page != "" {
					fmt.Printf("  Placement: %s/%s\n", page, position)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants, id=headline pairs")
	cmd.Flags().StringVar(&page, "page", "", "page this test is bound to (optional)")
	cmd.Flags().StringVar(&position, "position", "", "position on the page (optional)")
	cmd.Flags().IntVar(&trafficPct, "traffic", 100, "traffic inclusion percentage")
	cmd.Flags().IntVar(&minSample, "min-sample", 100, "minimum impressions per variant for significance")
	cmd.Flags().StringVar(&primaryMetric, "metric", "conversion", "primary metric name")
	cmd.Flags().BoolVar(&draft, "draft", false, "create in draft instead of running")

	return cmd
}

func parseVariants(raw string) ([]store.Variant, error) {
	parts := strings.Split(raw, ",")
	out := make([]store.Variant, 0, len(parts))
	seen := make(map[string]bool)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, headline := part, part
		if eq := strings.Index(part, "="); eq >= 0 {
			id = strings.TrimSpace(part[:eq])
			headline = strings.TrimSpace(part[eq+1:])
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate variant id %q", id)
		}
		seen[id] = true
		out = append(out, store.Variant{
			ID:      id,
			Payload: map[string]string{"headline": headline},
		})
	}
	return out, nil
}
