package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newHideCmd(root *rootOptions) *cobra.Command {
	var (
		after time.Duration
		merge bool
	)

	cmd := &cobra.Command{
		Use:   "hide",
		Short: "Hide the overlay, optionally after a delay",
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, _, err := root.dial(merge)
			if err != nil {
				return err
			}
			defer sender.Close()

			if after <= 0 {
				return sender.Hide()
			}

			timer := time.NewTimer(after)
			defer timer.Stop()
			select {
			case <-cmd.Context().Done():
				return nil
			case <-timer.C:
				return sender.Hide()
			}
		},
	}

	cmd.Flags().DurationVar(&after, "after", 0, "Delay before hiding")
	cmd.Flags().BoolVar(&merge, "merge", false, "Keep the other fields instead of resetting them")

	return cmd
}
