package teleop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/domain/telemetry"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
)

// Commander is the write side of the device gateway.
type Commander interface {
	SendCommand(ctx context.Context, cmd robot.MoveCommand) error
	SetServoAngle(ctx context.Context, angle int) error
	SetMode(ctx context.Context, mode robot.Mode) error
}

// ErrUnknownPreset is returned by OnServoPreset for names not configured.
var ErrUnknownPreset = fmt.Errorf("unknown servo preset")

// DispatcherConfig holds the control surface settings.
type DispatcherConfig struct {
	InitialServo int
	// ServoPresets maps a button name (reset, center, max) to an angle.
	ServoPresets map[string]int
	Metrics      *metrics.Metrics
}

// ControlState is what the control surface currently shows.
type ControlState struct {
	ActiveCommand robot.MoveCommand `json:"activeCommand,omitempty"`
	ServoAngle    int               `json:"servoAngle"`
	Mode          robot.Mode        `json:"mode"`
	Locked        bool              `json:"locked"`
}

// Dispatcher turns operator intents into gateway calls. Calls are made one
// at a time, in arrival order. Gateway errors are already logged by the
// gateway and are discarded here: a failed command is never retried.
type Dispatcher struct {
	mu      sync.Mutex
	gw      Commander
	store   *telemetry.Store
	logger  customlog.Logger
	metrics *metrics.Metrics

	presets map[string]int
	active  robot.MoveCommand
	servo   int
}

// NewDispatcher creates a dispatcher that reads and writes mode through store.
func NewDispatcher(gw Commander, store *telemetry.Store, cfg DispatcherConfig, logger customlog.Logger) *Dispatcher {
	presets := make(map[string]int, len(cfg.ServoPresets))
	for name, v := range cfg.ServoPresets {
		presets[strings.ToLower(name)] = robot.ClampServoAngle(v)
	}
	return &Dispatcher{
		gw:      gw,
		store:   store,
		logger:  logger.WithField("component", "dispatcher"),
		metrics: cfg.Metrics,
		presets: presets,
		servo:   robot.ClampServoAngle(cfg.InitialServo),
	}
}

// OnInput handles a press or release of a movement control. Nothing is
// sent while the rover is in AUTOMATIC mode. A release always sends STOP.
func (d *Dispatcher) OnInput(ctx context.Context, cmd robot.MoveCommand, pressed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onInputLocked(ctx, cmd, pressed)
}

func (d *Dispatcher) onInputLocked(ctx context.Context, cmd robot.MoveCommand, pressed bool) {
	if d.store.Mode() == robot.ModeAutomatic {
		d.logger.Debugf("Ignoring %s (pressed=%t): controls locked in AUTOMATIC mode", cmd, pressed)
		return
	}

	if !pressed {
		d.stopLocked(ctx)
		return
	}

	if !cmd.Valid() {
		d.logger.Warnf("Ignoring unknown command %q", cmd)
		return
	}
	d.active = cmd
	d.metrics.ObserveCommand("move")
	_ = d.gw.SendCommand(ctx, cmd)
}

func (d *Dispatcher) stopLocked(ctx context.Context) {
	d.active = ""
	d.metrics.ObserveCommand("stop")
	_ = d.gw.SendCommand(ctx, robot.CommandStop)
}

// Release sends STOP if cmd is the active command. It is used for pointer
// leave and for clients that disconnect while holding a control.
func (d *Dispatcher) Release(ctx context.Context, cmd robot.MoveCommand) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == "" || d.active != cmd {
		return false
	}
	d.onInputLocked(ctx, cmd, false)
	return true
}

// OnServoDrag clamps value, stores it and transmits it. Every call is
// transmitted; there is no rate limiting. Returns the clamped angle.
func (d *Dispatcher) OnServoDrag(ctx context.Context, value int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.servo = robot.ClampServoAngle(value)
	d.metrics.ObserveCommand("servo")
	_ = d.gw.SetServoAngle(ctx, d.servo)
	return d.servo
}

// OnServoPreset moves the gimbal to a named preset.
func (d *Dispatcher) OnServoPreset(ctx context.Context, name string) (int, error) {
	angle, ok := d.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return d.ServoAngle(), fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return d.OnServoDrag(ctx, angle), nil
}

// Presets returns the preset names, sorted.
func (d *Dispatcher) Presets() []string {
	names := make([]string, 0, len(d.presets))
	for name := range d.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnModeToggle flips the mode, shows it locally at once and sends it.
func (d *Dispatcher) OnModeToggle(ctx context.Context) robot.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.store.Mode().Toggle()
	d.store.SetLocalMode(next)
	if next == robot.ModeAutomatic && d.active != "" {
		// Controls lock now; a held command is stopped before handing over.
		d.stopLocked(ctx)
	}
	d.logger.Infof("Mode toggled to %s", next)
	d.metrics.ObserveCommand("mode")
	_ = d.gw.SetMode(ctx, next)
	return next
}

// ActiveCommand returns the held movement command, if any.
func (d *Dispatcher) ActiveCommand() (robot.MoveCommand, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.active != ""
}

// ServoAngle returns the last angle sent.
func (d *Dispatcher) ServoAngle() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.servo
}

// Locked reports whether movement controls are disabled.
func (d *Dispatcher) Locked() bool {
	return d.store.Mode() == robot.ModeAutomatic
}

// State returns the control surface snapshot.
func (d *Dispatcher) State() ControlState {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode := d.store.Mode()
	return ControlState{
		ActiveCommand: d.active,
		ServoAngle:    d.servo,
		Mode:          mode,
		Locked:        mode == robot.ModeAutomatic,
	}
}
