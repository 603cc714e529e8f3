package app

import (
	"github.com/spf13/cobra"

	"github.com/open-teleop/dashboard/cmd/dashboard/app/options"
)

const (
	commandName = "dashboard"
	commandDesc = `The rover dashboard backend polls the rover for telemetry, serves the
operator dashboard API and forwards keyboard, button, servo and mode inputs
to the rover. Run with --mock to drive a simulated rover.`
)

// NewDashboardCommand builds the root command. Subcommands read the
// signal-aware context passed to ExecuteContext.
func NewDashboardCommand() *cobra.Command {
	opts := options.NewOptions()
	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Rover teleoperation dashboard",
		Long:         commandDesc,
		SilenceUsage: true,
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(opts),
		newStatusCommand(opts),
		newSendCommand(opts),
		newServoCommand(opts),
		newModeCommand(opts),
	)
	return cmd
}

// complete resolves and validates opts for a running subcommand.
func complete(cmd *cobra.Command, opts *options.Options) error {
	if err := opts.Complete(cmd.Flags()); err != nil {
		return err
	}
	return opts.Validate()
}
