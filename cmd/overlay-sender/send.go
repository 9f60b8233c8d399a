package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"voicekey/internal/domain"
)

type sendOptions struct {
	full  bool
	merge bool

	connection string
	listening  string
	processing string
	target     string
	level      float64
	visible    bool
	message    string
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one update",
		Long: `Send the fields given as flags.

By default the update is written as a patch. The overlay still treats any
payload without nulls as a full state, so omitted fields reset to their
defaults unless --merge is given. --full always sends a full state.`,
		Example: `  overlay-sender send --visible --message "Listening..."
  overlay-sender send --merge --level 0.4
  overlay-sender send --full --connection online --target selected`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.full && opts.merge {
				return errors.New("--full and --merge are mutually exclusive")
			}
			patch := opts.patch(cmd.Flags())
			if patch.IsEmpty() && !opts.full {
				return errors.New("nothing to send: set at least one field flag")
			}

			sender, logger, err := root.dial(opts.merge)
			if err != nil {
				return err
			}
			defer sender.Close()

			if opts.full {
				state := patch.Apply(domain.DefaultState())
				logger.WithField("state", state).Debug("sending full state")
				return sender.SendState(state)
			}
			logger.WithField("merge", opts.merge).Debug("sending patch")
			return sender.SendPatch(patch)
		},
	}

	opts.bind(cmd.Flags())

	return cmd
}

func (o *sendOptions) bind(f *pflag.FlagSet) {
	f.BoolVar(&o.full, "full", false, "Send a full state; unset fields take defaults")
	f.BoolVar(&o.merge, "merge", false, "Force merge semantics on the receiver")
	f.StringVar(&o.connection, "connection", "", "Connection label")
	f.StringVar(&o.listening, "listening", "", "Listening label")
	f.StringVar(&o.processing, "processing", "", "Processing label")
	f.StringVar(&o.target, "target", "", "Target label")
	f.Float64Var(&o.level, "level", 0, "Input level in [0, 1]")
	f.BoolVar(&o.visible, "visible", false, "Overlay visibility")
	f.StringVar(&o.message, "message", "", "Message; blank clears it")
}

// patch includes only the fields whose flags were set explicitly.
func (o *sendOptions) patch(flags *pflag.FlagSet) domain.OverlayPatch {
	var patch domain.OverlayPatch
	if flags.Changed("connection") {
		patch.Connection = domain.Ptr(o.connection)
	}
	if flags.Changed("listening") {
		patch.Listening = domain.Ptr(o.listening)
	}
	if flags.Changed("processing") {
		patch.Processing = domain.Ptr(o.processing)
	}
	if flags.Changed("target") {
		patch.Target = domain.Ptr(o.target)
	}
	if flags.Changed("level") {
		patch.Level = domain.Ptr(o.level)
	}
	if flags.Changed("visible") {
		patch.Visible = domain.Ptr(o.visible)
	}
	if flags.Changed("message") {
		patch.Message = domain.Ptr(o.message)
	}
	return patch
}
