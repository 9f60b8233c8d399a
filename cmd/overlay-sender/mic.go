package main

import (
	"github.com/spf13/cobra"

	"voicekey/internal/audio"
	"voicekey/internal/bootstrap"
	"voicekey/internal/domain"
	"voicekey/internal/logging"
	"voicekey/internal/meter"
)

func newMicCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mic",
		Short: "Stream the microphone level to the overlay",
		Long: `Capture the microphone with ffmpeg and push level updates as patches.

The overlay is shown with "Listening..." and hidden again on exit.
A "No audio detected" message appears when the input stays silent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sender, logger, err := root.dial(true)
			if err != nil {
				return err
			}
			defer sender.Close()

			capture := audio.NewFFMPEGCapture(root.cfg.Audio.RecorderCommand, logging.NewLogger("audio"))
			session, err := capture.Start(ctx, bootstrap.CaptureConfig(root.cfg))
			if err != nil {
				return err
			}
			defer func() {
				if err := session.Stop(); err != nil {
					logger.WithError(err).Warn("microphone capture did not stop cleanly")
				}
			}()

			if err := sender.SendPatch(domain.OverlayPatch{
				Listening: domain.Ptr("listening"),
				Visible:   domain.Ptr(true),
				Message:   domain.Ptr(meter.MessageListening),
			}); err != nil {
				logger.WithError(err).Warn("overlay not reachable; continuing")
			}
			defer func() { _ = sender.Hide() }()

			monitor := meter.NewMonitor(sender, logging.NewLogger("meter"), bootstrap.MonitorOptions(root.cfg))
			return monitor.Run(ctx, session)
		},
	}
}
