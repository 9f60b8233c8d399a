package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"voicekey/internal/domain"
)

const defaultDemoInterval = 1400 * time.Millisecond

// demoStates cycles through quiet listening, loud listening and processing.
func demoStates() []domain.OverlayState {
	base := domain.OverlayState{
		Connection: "online",
		Listening:  "listening",
		Processing: "idle",
		Target:     "selected",
		Visible:    true,
	}

	quiet := base
	quiet.Level = 0.02

	loud := base
	loud.Level = 0.72

	processing := base
	processing.Listening = "ready"
	processing.Processing = "processing"

	return []domain.OverlayState{quiet, loud, processing}
}

type stateSender interface {
	SendState(state domain.OverlayState) error
}

// runDemo sends the demo states round-robin until ctx is done or count
// states have been sent. A count of zero means no limit.
func runDemo(ctx context.Context, sender stateSender, interval time.Duration, count int) error {
	states := demoStates()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; count == 0 || i < count; i++ {
		if err := sender.SendState(states[i%len(states)]); err != nil {
			return err
		}
		if count != 0 && i == count-1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Cycle through sample states",
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, logger, err := root.dial(false)
			if err != nil {
				return err
			}
			defer sender.Close()

			logger.WithField("interval", interval).Info("sending demo states; press Ctrl+C to stop")
			return runDemo(cmd.Context(), sender, interval, count)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultDemoInterval, "Delay between states")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many states (0 runs until interrupted)")

	return cmd
}
