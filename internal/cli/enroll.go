package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/internal/email"
	"github.com/leadpulse/leadpulse/internal/nurture"
	"github.com/leadpulse/leadpulse/internal/store"
)

func init() {
	rootCmd.AddCommand(newEnrollCmd())
}

func newEnrollCmd() *cobra.Command {
	var (
		sequence string
		score    int
	)

	cmd := &cobra.Command{
		Use:   "enroll <email>",
		Short: "Enroll an email address in a nurture sequence",
		Long: `Enroll a subscriber. The day-0 email goes out immediately; the
scheduler sends the rest on their day offsets.

Example:
  leadpulse enroll alice@example.com --sequence quickwin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]

			return withStore(func(s store.Store) error {
				sender := &email.ConsoleSender{Log: slog.Default()}
				scheduler := nurture.NewScheduler(s.Subscriptions(), sender, nurture.DefaultLibrary(), slog.Default())

				sub, err := scheduler.Enroll(context.Background(), address, sequence, score, nil)
				if errors.Is(err, nurture.ErrAlreadySubscribed) {
					fmt.Printf("%s is already subscribed to %q\n", address, sequence)
					return nil
				}
				if err != nil {
					return err
				}

				fmt.Printf("Enrolled %s in %q (subscription %s, day %d sent)\n",
					address, sequence, sub.ID, sub.CurrentOffset)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sequence, "sequence", "s", nurture.SeqQuickWin, "sequence type")
	cmd.Flags().IntVar(&score, "score", 0, "lead score to store with the subscription")

	return cmd
}
