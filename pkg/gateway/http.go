package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
)

// Operation labels used in logs and metrics.
const (
	opControl = "control"
	opServo   = "servo"
	opMode    = "mode"
	opStatus  = "status"
)

// HTTPGateway talks JSON over HTTP to the rover's API.
type HTTPGateway struct {
	mu      sync.RWMutex
	device  config.DeviceConfig
	logger  customlog.Logger
	metrics *metrics.Metrics
}

// NewHTTPGateway creates a live gateway for the given device config.
func NewHTTPGateway(cfg config.DeviceConfig, logger customlog.Logger, m *metrics.Metrics) *HTTPGateway {
	return &HTTPGateway{
		device:  cfg,
		logger:  logger.WithField("gateway", NameLive),
		metrics: m,
	}
}

// Name implements Gateway.
func (g *HTTPGateway) Name() string { return NameLive }

// Reconfigure swaps base URL, endpoints and timeout. Requests already in
// flight finish against the old settings.
func (g *HTTPGateway) Reconfigure(cfg config.DeviceConfig) {
	g.mu.Lock()
	g.device = cfg
	g.mu.Unlock()
	g.logger.Infof("Device gateway reconfigured: base_url=%s timeout=%v", cfg.BaseURL, cfg.RequestTimeout())
}

func (g *HTTPGateway) config() config.DeviceConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.device
}

// SendCommand posts {"command": cmd} to the control endpoint.
func (g *HTTPGateway) SendCommand(ctx context.Context, cmd robot.MoveCommand) error {
	g.logger.Infof("Sending command: %s", cmd)
	if !cmd.Valid() {
		g.logger.Errorf("Failed to send command: %q is not a known command", cmd)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	cfg := g.config()
	err := g.post(ctx, opControl, cfg, cfg.Endpoints.Control, fiber.Map{"command": cmd})
	if err != nil {
		g.logger.Errorf("Failed to send command: %v", err)
	}
	return err
}

// SetServoAngle posts {"angle": clamped} to the servo endpoint.
func (g *HTTPGateway) SetServoAngle(ctx context.Context, angle int) error {
	safe := robot.ClampServoAngle(angle)
	g.logger.Infof("Setting servo: %d°", safe)
	cfg := g.config()
	err := g.post(ctx, opServo, cfg, cfg.Endpoints.Servo, fiber.Map{"angle": safe})
	if err != nil {
		g.logger.Errorf("Failed to set servo: %v", err)
	}
	return err
}

// SetMode posts {"mode": mode} to the mode endpoint.
func (g *HTTPGateway) SetMode(ctx context.Context, mode robot.Mode) error {
	g.logger.Infof("Setting mode: %s", mode)
	if !mode.Valid() {
		g.logger.Errorf("Failed to set mode: %q is not a known mode", mode)
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	cfg := g.config()
	err := g.post(ctx, opMode, cfg, cfg.Endpoints.Mode, fiber.Map{"mode": mode})
	if err != nil {
		g.logger.Errorf("Failed to set mode: %v", err)
	}
	return err
}

// GetStatus reads the status endpoint. Absent fields stay nil in the
// returned report.
func (g *HTTPGateway) GetStatus(ctx context.Context) (robot.StatusReport, error) {
	cfg := g.config()
	url := cfg.URL(cfg.Endpoints.Status)

	start := time.Now()
	body, err := g.do(ctx, fiber.Get(url), cfg)
	if err == nil {
		var report robot.StatusReport
		if decodeErr := json.Unmarshal(body, &report); decodeErr != nil {
			err = fmt.Errorf("%w: %s: %v", ErrDecode, url, decodeErr)
		} else {
			g.metrics.ObserveGatewayCall(opStatus, time.Since(start).Seconds(), nil)
			return report, nil
		}
	}
	g.metrics.ObserveGatewayCall(opStatus, time.Since(start).Seconds(), err)
	g.logger.Warnf("Status unavailable, using fallback: %v", err)
	return Fallback(), err
}

func (g *HTTPGateway) post(ctx context.Context, op string, cfg config.DeviceConfig, path string, body fiber.Map) error {
	start := time.Now()
	_, err := g.do(ctx, fiber.Post(cfg.URL(path)).JSON(body), cfg)
	g.metrics.ObserveGatewayCall(op, time.Since(start).Seconds(), err)
	return err
}

// do runs the agent bounded by the request timeout, or by the context
// deadline when that is sooner. The agent is released by Bytes.
func (g *HTTPGateway) do(ctx context.Context, agent *fiber.Agent, cfg config.DeviceConfig) ([]byte, error) {
	url := agent.Request().URI().String()

	timeout := cfg.RequestTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil || (timeout <= 0 && cfg.RequestTimeout() > 0) {
		fiber.ReleaseAgent(agent)
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, url, err)
	}
	if timeout > 0 {
		agent.Timeout(timeout)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, url, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrTransport, url, code)
	}
	return body, nil
}
