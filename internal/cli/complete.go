package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/store"
)

func init() {
	rootCmd.AddCommand(newCompleteCmd())
}

func newCompleteCmd() *cobra.Command {
	var winnerID string

	cmd := &cobra.Command{
		Use:   "complete <test-id>",
		Short: "Complete a test, optionally declaring a winner",
		Long: `Mark an A/B test completed. Completed tests are no longer assignable.

Example:
  leadpulse complete hero-cta --winner urgent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			return withStore(func(s store.Store) error {
				ctx := context.Background()

				t, err := s.Tests().Mutate(ctx, testID, func(t *store.Test) error {
					if t.Status != store.StatusRunning && t.Status != store.StatusPaused {
						return fmt.Errorf("test is not running (current status: %s)", t.Status)
					}
					if winnerID != "" && t.Variant(winnerID) == nil {
						return fmt.Errorf("test has no variant %q", winnerID)
					}
					t.Status = store.StatusCompleted
					t.WinnerVariant = winnerID
					return nil
				})
				if err == store.ErrNotFound {
					return fmt.Errorf("test '%s' not found", testID)
				}
				if err != nil {
					return err
				}

				if winnerID != "" {
					fmt.Printf("Completed test '%s'; winner: %q (%s)\n",
						t.ID, winnerID, t.Variant(winnerID).Payload["headline"])
				} else {
					fmt.Printf("Completed test '%s'\n", t.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&winnerID, "winner", "w", "", "winning variant id (optional)")

	return cmd
}
