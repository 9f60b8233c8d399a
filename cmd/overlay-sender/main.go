// Command overlay-sender pushes overlay updates to a running overlay over UDP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voicekey/internal/bridge"
	"voicekey/internal/config"
	"voicekey/internal/logging"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	addr    string
	verbose bool
	cfg     config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "overlay-sender",
		Short:         "Send state updates to the voicekey overlay",
		Long:          "Send full states or patches to the voicekey overlay bridge over UDP.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			logging.Configure(cfg.Logging)
			opts.cfg = cfg
			if !cmd.Flags().Changed("addr") {
				opts.addr = cfg.Bridge.Address
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.addr, "addr", config.DefaultBridgeAddress, "Overlay bridge address")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newDemoCmd(opts))
	cmd.AddCommand(newHideCmd(opts))
	cmd.AddCommand(newMicCmd(opts))

	return cmd
}

func (o *rootOptions) dial(forceMerge bool) (*bridge.Sender, *logrus.Entry, error) {
	logger := logging.NewLogger("overlay-sender").WithField("addr", o.addr)
	sender, err := bridge.Dial(o.addr, bridge.SenderOptions{ForceMerge: forceMerge, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return sender, logger, nil
}
