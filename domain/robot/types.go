package robot

import (
	"fmt"
	"math"
	"strings"
)

// Mode is the rover's operating mode.
type Mode string

const (
	ModeManual    Mode = "MANUAL"
	ModeAutomatic Mode = "AUTOMATIC"
)

// Toggle returns the opposite mode. Anything that is not AUTOMATIC toggles to AUTOMATIC.
func (m Mode) Toggle() Mode {
	if m == ModeAutomatic {
		return ModeManual
	}
	return ModeAutomatic
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAutomatic
}

// ParseMode accepts the wire names case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// MoveCommand is a locomotion intent sent to the rover.
type MoveCommand string

const (
	CommandForward   MoveCommand = "FORWARD"
	CommandBackward  MoveCommand = "BACKWARD"
	CommandRotateCW  MoveCommand = "ROTATE_CW"
	CommandRotateCCW MoveCommand = "ROTATE_CCW"
	CommandStop      MoveCommand = "STOP"
)

// Valid reports whether c is one of the five wire commands.
func (c MoveCommand) Valid() bool {
	switch c {
	case CommandForward, CommandBackward, CommandRotateCW, CommandRotateCCW, CommandStop:
		return true
	}
	return false
}

// IsMovement is true for every valid command except STOP.
func (c MoveCommand) IsMovement() bool {
	return c.Valid() && c != CommandStop
}

// ParseMoveCommand accepts the wire names case-insensitively.
func ParseMoveCommand(s string) (MoveCommand, error) {
	c := MoveCommand(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown move command %q", s)
	}
	return c, nil
}

// Camera gimbal limits, in degrees.
const (
	ServoMin    = 0
	ServoMax    = 150
	ServoCenter = 75
)

// ClampServoAngle limits angle to [ServoMin, ServoMax].
func ClampServoAngle(angle int) int {
	if angle < ServoMin {
		return ServoMin
	}
	if angle > ServoMax {
		return ServoMax
	}
	return angle
}

// GPS is the last position fix reported by the rover.
type GPS struct {
	Lat        float64 `json:"lat" yaml:"lat"`
	Lng        float64 `json:"lng" yaml:"lng"`
	Satellites int     `json:"satellites" yaml:"satellites"`
}

// Status is the telemetry snapshot shown on the dashboard.
type Status struct {
	Online         bool    `json:"online"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	CPUTemp        float64 `json:"cpuTemp"`
	Mode           Mode    `json:"mode"`
	GPS            GPS     `json:"gps"`
	Heading        float64 `json:"heading"` // degrees, [0,360)
}

// InitialStatus is the state before the first poll completes.
func InitialStatus() Status {
	return Status{Mode: ModeManual}
}

// FallbackStatus is reported when the device cannot be reached or answers garbage.
// It is identical to a device that is legitimately offline and zeroed.
func FallbackStatus() Status {
	return Status{
		Online:         false,
		BatteryVoltage: 0,
		CPUTemp:        0,
		Mode:           ModeManual,
		GPS:            GPS{},
		Heading:        0,
	}
}

// MockStatus is the canned telemetry served in mock mode.
func MockStatus() Status {
	return Status{
		Online:         true,
		BatteryVoltage: 12.4,
		CPUTemp:        45.2,
		Mode:           ModeManual,
		GPS: GPS{
			Lat:        40.7128,
			Lng:        -74.0060,
			Satellites: 8,
		},
		Heading: 45,
	}
}

// NormalizeHeading wraps h into [0,360). NaN and infinities map to 0.
func NormalizeHeading(h float64) float64 {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}
