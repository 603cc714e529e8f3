package gateway

import (
	"context"
	"errors"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
)

var (
	// ErrTransport covers connection failures, timeouts and non-2xx replies.
	ErrTransport = errors.New("device transport failure")
	// ErrDecode is returned when a status body is not valid telemetry JSON.
	ErrDecode = errors.New("device response decode failure")
	// ErrUnknownCommand is returned for commands outside the wire vocabulary.
	// Nothing is transmitted.
	ErrUnknownCommand = errors.New("unknown move command")
	// ErrUnknownMode is returned for modes outside the wire vocabulary.
	ErrUnknownMode = errors.New("unknown mode")
)

// Gateway is the only component that talks to the rover. Command methods
// return an error for callers that want it; the dashboard's own callers log
// and discard it, since failed commands are never retried.
type Gateway interface {
	// Name identifies the implementation ("live" or "mock").
	Name() string
	SendCommand(ctx context.Context, cmd robot.MoveCommand) error
	// SetServoAngle clamps angle into [0,150] before transmission.
	SetServoAngle(ctx context.Context, angle int) error
	SetMode(ctx context.Context, mode robot.Mode) error
	// GetStatus never fails to produce a report: on any failure it returns
	// the full fallback record together with the classified error.
	GetStatus(ctx context.Context) (robot.StatusReport, error)
}

// Reconfigurable is implemented by gateways that can pick up a new device
// config without being rebuilt.
type Reconfigurable interface {
	Reconfigure(cfg config.DeviceConfig)
}

// Names returned by Gateway.Name.
const (
	NameLive = "live"
	NameMock = "mock"
)

// New selects the implementation once, from cfg.Mock.
func New(cfg config.DeviceConfig, logger customlog.Logger, m *metrics.Metrics) Gateway {
	if cfg.Mock {
		return NewMockGateway(cfg.MockLatency(), logger)
	}
	return NewHTTPGateway(cfg, logger, m)
}

// Fallback is the report GetStatus returns when the device cannot be read.
func Fallback() robot.StatusReport {
	return robot.FullReport(robot.FallbackStatus())
}
