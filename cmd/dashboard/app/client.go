package app

import (
	"fmt"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/open-teleop/dashboard/cmd/dashboard/app/options"
	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/gateway"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// clientGateway builds a gateway for one-shot commands. Logs go to stderr at
// warn unless --log-level says otherwise.
func clientGateway(cmd *cobra.Command, opts *options.Options) (gateway.Gateway, error) {
	if err := complete(cmd, opts); err != nil {
		return nil, err
	}
	level := opts.LogLevel
	if level == "" {
		level = "warn"
	}
	logger := customlog.NewWriterLogger(level, cmd.ErrOrStderr())

	cfg, err := opts.LoadConfig(logger)
	if err != nil {
		return nil, err
	}
	return gateway.New(cfg.Device, logger, nil), nil
}

func newStatusCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read telemetry once and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := clientGateway(cmd, opts)
			if err != nil {
				return err
			}
			report, err := gw.GetStatus(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), StatusTable(gw.Name(), report.ApplyTo(robot.InitialStatus())))
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: rover unreachable, showing fallback status: %v\n", err)
			}
			return nil
		},
	}
}

// StatusTable renders a status the way the dashboard footer shows it.
func StatusTable(source string, s robot.Status) *uitable.Table {
	online := "OFFLINE"
	if s.Online {
		online = "ONLINE"
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("FIELD", "VALUE")
	table.AddRow("Gateway", source)
	table.AddRow("Link", online)
	table.AddRow("Mode", s.Mode)
	table.AddRow("Battery", fmt.Sprintf("%.1f V", s.BatteryVoltage))
	table.AddRow("CPU temp", fmt.Sprintf("%.1f °C", s.CPUTemp))
	table.AddRow("GPS", fmt.Sprintf("%.4f, %.4f (%d sats)", s.GPS.Lat, s.GPS.Lng, s.GPS.Satellites))
	table.AddRow("Heading", fmt.Sprintf("%.0f°", s.Heading))
	return table
}

func newSendCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "send COMMAND",
		Short: "Send one move command (FORWARD, BACKWARD, ROTATE_CW, ROTATE_CCW, STOP)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			move, err := robot.ParseMoveCommand(args[0])
			if err != nil {
				return err
			}
			gw, err := clientGateway(cmd, opts)
			if err != nil {
				return err
			}
			if err := gw.SendCommand(cmd.Context(), move); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", move)
			return nil
		},
	}
}

func newServoCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "servo ANGLE",
		Short: "Set the camera gimbal angle (clamped to 0..150)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			angle, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid angle %q: %w", args[0], err)
			}
			gw, err := clientGateway(cmd, opts)
			if err != nil {
				return err
			}
			if err := gw.SetServoAngle(cmd.Context(), angle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "servo set to %d\n", robot.ClampServoAngle(angle))
			return nil
		},
	}
}

func newModeCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "mode MODE",
		Short: "Set the operating mode (MANUAL or AUTOMATIC)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := robot.ParseMode(args[0])
			if err != nil {
				return err
			}
			gw, err := clientGateway(cmd, opts)
			if err != nil {
				return err
			}
			if err := gw.SetMode(cmd.Context(), mode); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode set to %s\n", mode)
			return nil
		},
	}
}
