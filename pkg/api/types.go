package api

import (
	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/domain/teleop"
)

// --- REST request bodies ---

// ControlRequest is a movement button press or release.
type ControlRequest struct {
	Command string `json:"command"`
	Pressed bool   `json:"pressed"`
}

// KeyRequest is a keyboard event. Action is "down" or "up".
type KeyRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Repeat bool   `json:"repeat"`
}

// ServoRequest sets the camera gimbal angle.
type ServoRequest struct {
	Angle *int `json:"angle"`
}

// --- Data Structures for WebSocket Messages ---

// Control event types accepted on /ws/control.
const (
	EventKey        = "key"
	EventButton     = "button"
	EventServo      = "servo"
	EventPreset     = "preset"
	EventModeToggle = "mode_toggle"
)

// Key and button actions.
const (
	ActionDown    = "down"
	ActionUp      = "up"
	ActionPress   = "press"
	ActionRelease = "release"
	ActionLeave   = "leave"
)

// ControlEvent is one operator input received over /ws/control.
type ControlEvent struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Action  string `json:"action,omitempty"`
	Repeat  bool   `json:"repeat,omitempty"`
	Command string `json:"command,omitempty"`
	Angle   int    `json:"angle,omitempty"`
	Preset  string `json:"preset,omitempty"`
}

// ControlReply answers every control event with the resulting control state.
type ControlReply struct {
	Type     string              `json:"type"` // "ack" or "error"
	Handled  bool                `json:"handled"`
	Error    string              `json:"error,omitempty"`
	Controls teleop.ControlState `json:"controls"`
}

// TelemetryMessage is pushed on /ws/telemetry for every status change.
type TelemetryMessage struct {
	Type   string       `json:"type"`
	Status robot.Status `json:"status"`
}
