package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/dashboard/domain/robot"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// MockGateway stands in for the rover during development. It logs every
// call, simulates command latency and serves canned telemetry.
type MockGateway struct {
	latency time.Duration
	logger  customlog.Logger

	mu    sync.Mutex
	mode  robot.Mode
	servo int
}

// NewMockGateway creates a mock whose SendCommand takes latency to complete.
func NewMockGateway(latency time.Duration, logger customlog.Logger) *MockGateway {
	return &MockGateway{
		latency: latency,
		logger:  logger.WithField("gateway", NameMock),
		mode:    robot.ModeManual,
		servo:   robot.ServoCenter,
	}
}

// Name implements Gateway.
func (g *MockGateway) Name() string { return NameMock }

// SendCommand waits for the simulated round trip.
func (g *MockGateway) SendCommand(ctx context.Context, cmd robot.MoveCommand) error {
	g.logger.Infof("Sending command: %s", cmd)
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if g.latency <= 0 {
		return nil
	}

	timer := time.NewTimer(g.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}

// SetServoAngle records the clamped angle.
func (g *MockGateway) SetServoAngle(_ context.Context, angle int) error {
	safe := robot.ClampServoAngle(angle)
	g.logger.Infof("Setting servo: %d°", safe)
	g.mu.Lock()
	g.servo = safe
	g.mu.Unlock()
	return nil
}

// SetMode records the mode so later status reads echo it.
func (g *MockGateway) SetMode(_ context.Context, mode robot.Mode) error {
	g.logger.Infof("Setting mode: %s", mode)
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
	return nil
}

// GetStatus returns the canned online record with the last mode set.
func (g *MockGateway) GetStatus(ctx context.Context) (robot.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return Fallback(), fmt.Errorf("%w: %v", ErrTransport, err)
	}
	status := robot.MockStatus()
	g.mu.Lock()
	status.Mode = g.mode
	g.mu.Unlock()
	return robot.FullReport(status), nil
}

// ServoAngle returns the last angle received.
func (g *MockGateway) ServoAngle() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.servo
}
