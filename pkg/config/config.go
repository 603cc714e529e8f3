package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/dashboard/domain/robot"
)

// Mode precedence policies for merging telemetry over a locally toggled mode.
const (
	ModePolicyVersioned = "versioned"
	ModePolicyLocal     = "local"
	ModePolicyTelemetry = "telemetry"
)

// Defaults taken from the rover's stock API.
const (
	DefaultBaseURL          = "http://raspberrypi.local:5000"
	DefaultPollIntervalMs   = 2000
	DefaultZeroMQTopic      = "teleop.telemetry.status"
	DefaultMQTTTopic        = "rover/telemetry/status"
	DefaultMQTTClientID     = "rover-dashboard"
	DefaultMockLatencyMs    = 100
	DefaultVisualFeedID     = "visual"
	DefaultThermalFeedID    = "thermal"
	DefaultVideoPlaceholder = "https://picsum.photos/800/600?grayscale&blur=2"
	DefaultThermalHolder    = "https://picsum.photos/800/600?blur=10"
)

// Config represents the dashboard's operational configuration
type Config struct {
	Version     string          `yaml:"version" json:"version"`
	ConfigID    string          `yaml:"config_id" json:"config_id"`
	LastUpdated string          `yaml:"lastUpdated" json:"lastUpdated"`
	RobotID     string          `yaml:"robot_id" json:"robot_id"`
	Device      DeviceConfig    `yaml:"device" json:"device"`
	Telemetry   TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Controls    ControlsConfig  `yaml:"controls" json:"controls"`
	Video       VideoConfig     `yaml:"video" json:"video"`
}

// DeviceConfig describes how to reach the rover.
type DeviceConfig struct {
	BaseURL          string          `yaml:"base_url" json:"base_url"`
	Mock             bool            `yaml:"mock" json:"mock"`
	MockLatencyMs    int             `yaml:"mock_latency_ms" json:"mock_latency_ms"`
	RequestTimeoutMs int             `yaml:"request_timeout_ms" json:"request_timeout_ms"`
	Endpoints        EndpointsConfig `yaml:"endpoints" json:"endpoints"`
}

// EndpointsConfig lists the rover's HTTP paths.
type EndpointsConfig struct {
	Control      string `yaml:"control" json:"control"`
	Servo        string `yaml:"servo" json:"servo"`
	Mode         string `yaml:"mode" json:"mode"`
	Status       string `yaml:"status" json:"status"`
	VideoMain    string `yaml:"video_main" json:"video_main"`
	VideoThermal string `yaml:"video_thermal" json:"video_thermal"`
}

// TelemetryConfig controls the poll loop and outbound telemetry sinks.
type TelemetryConfig struct {
	PollIntervalMs int         `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	ModePolicy     string      `yaml:"mode_policy" json:"mode_policy"`
	Sinks          SinksConfig `yaml:"sinks" json:"sinks"`
}

// SinksConfig groups the optional telemetry publishers.
type SinksConfig struct {
	ZeroMQ ZeroMQSinkConfig `yaml:"zeromq" json:"zeromq"`
	MQTT   MQTTSinkConfig   `yaml:"mqtt" json:"mqtt"`
}

// ZeroMQSinkConfig configures the PUB socket telemetry is published on.
type ZeroMQSinkConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	PublishAddress string `yaml:"publish_address" json:"publish_address"`
	Topic          string `yaml:"topic" json:"topic"`
}

// MQTTSinkConfig configures the MQTT v5 telemetry publisher.
type MQTTSinkConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	BrokerURL string `yaml:"broker_url" json:"broker_url"`
	ClientID  string `yaml:"client_id" json:"client_id"`
	Topic     string `yaml:"topic" json:"topic"`
	QoS       int    `yaml:"qos" json:"qos"`
	Username  string `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string `yaml:"password,omitempty" json:"-"`
}

// ControlsConfig holds the manual control surface settings.
type ControlsConfig struct {
	ServoInitial *int              `yaml:"servo_initial" json:"servo_initial"`
	ServoPresets map[string]int    `yaml:"servo_presets" json:"servo_presets"`
	Keymap       map[string]string `yaml:"keymap" json:"keymap"`
}

// VideoConfig lists the camera feeds exposed by the rover.
type VideoConfig struct {
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
}

// FeedConfig is a single media source.
type FeedConfig struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Type        string `yaml:"type" json:"type"`
	Path        string `yaml:"path" json:"path"`
	Placeholder string `yaml:"placeholder" json:"placeholder"`
}

// DefaultKeymap is the WASD layout.
func DefaultKeymap() map[string]string {
	return map[string]string{
		"w": string(robot.CommandForward),
		"s": string(robot.CommandBackward),
		"a": string(robot.CommandRotateCCW),
		"d": string(robot.CommandRotateCW),
	}
}

// DefaultServoPresets mirrors the RESET / CENTER / MAX buttons.
func DefaultServoPresets() map[string]int {
	return map[string]int{
		"reset":  robot.ServoMin,
		"center": robot.ServoCenter,
		"max":    robot.ServoMax,
	}
}

// LoadConfig loads configuration from the specified file path, applies
// defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and validates.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a fully defaulted config in mock mode.
func Default() *Config {
	c := &Config{Version: "1.0", ConfigID: "default", RobotID: "rover"}
	c.Device.Mock = true
	c.ApplyDefaults()
	return c
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	if c.Controls.ServoInitial != nil {
		v := *c.Controls.ServoInitial
		out.Controls.ServoInitial = &v
	}
	if c.Controls.ServoPresets != nil {
		out.Controls.ServoPresets = make(map[string]int, len(c.Controls.ServoPresets))
		for k, v := range c.Controls.ServoPresets {
			out.Controls.ServoPresets[k] = v
		}
	}
	if c.Controls.Keymap != nil {
		out.Controls.Keymap = make(map[string]string, len(c.Controls.Keymap))
		for k, v := range c.Controls.Keymap {
			out.Controls.Keymap[k] = v
		}
	}
	if c.Video.Feeds != nil {
		out.Video.Feeds = append([]FeedConfig(nil), c.Video.Feeds...)
	}
	return &out
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	d := &c.Device
	if d.BaseURL == "" {
		d.BaseURL = DefaultBaseURL
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")
	if d.MockLatencyMs == 0 {
		d.MockLatencyMs = DefaultMockLatencyMs
	}
	if d.Endpoints.Control == "" {
		d.Endpoints.Control = "/api/control"
	}
	if d.Endpoints.Servo == "" {
		d.Endpoints.Servo = "/api/servo"
	}
	if d.Endpoints.Mode == "" {
		d.Endpoints.Mode = "/api/mode"
	}
	if d.Endpoints.Status == "" {
		d.Endpoints.Status = "/api/status"
	}
	if d.Endpoints.VideoMain == "" {
		d.Endpoints.VideoMain = "/video_feed"
	}
	if d.Endpoints.VideoThermal == "" {
		d.Endpoints.VideoThermal = "/thermal_feed"
	}

	t := &c.Telemetry
	if t.PollIntervalMs == 0 {
		t.PollIntervalMs = DefaultPollIntervalMs
	}
	// A stalled request must not outlive the next tick.
	if d.RequestTimeoutMs == 0 {
		d.RequestTimeoutMs = t.PollIntervalMs
	}
	if t.ModePolicy == "" {
		t.ModePolicy = ModePolicyVersioned
	}
	if t.Sinks.ZeroMQ.Topic == "" {
		t.Sinks.ZeroMQ.Topic = DefaultZeroMQTopic
	}
	if t.Sinks.MQTT.Topic == "" {
		t.Sinks.MQTT.Topic = DefaultMQTTTopic
	}
	if t.Sinks.MQTT.ClientID == "" {
		t.Sinks.MQTT.ClientID = DefaultMQTTClientID
	}

	ctl := &c.Controls
	if ctl.ServoInitial == nil {
		initial := robot.ServoCenter
		ctl.ServoInitial = &initial
	}
	if len(ctl.ServoPresets) == 0 {
		ctl.ServoPresets = DefaultServoPresets()
	}
	if len(ctl.Keymap) == 0 {
		ctl.Keymap = DefaultKeymap()
	}

	if len(c.Video.Feeds) == 0 {
		c.Video.Feeds = []FeedConfig{
			{ID: DefaultVisualFeedID, Title: "Visual Optic Feed", Type: "visual"},
			{ID: DefaultThermalFeedID, Title: "Thermal Infrared Feed", Type: "thermal"},
		}
	}
	for i := range c.Video.Feeds {
		f := &c.Video.Feeds[i]
		if f.Type == "" {
			f.Type = f.ID
		}
		if f.Path == "" {
			if f.Type == "thermal" {
				f.Path = d.Endpoints.VideoThermal
			} else {
				f.Path = d.Endpoints.VideoMain
			}
		}
		if f.Placeholder == "" {
			if f.Type == "thermal" {
				f.Placeholder = DefaultThermalHolder
			} else {
				f.Placeholder = DefaultVideoPlaceholder
			}
		}
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	var errs []error

	if !c.Device.Mock {
		u, err := url.Parse(c.Device.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid device.base_url %q", c.Device.BaseURL))
		}
	}
	if c.Device.RequestTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("device.request_timeout_ms must not be negative"))
	}
	if c.Device.MockLatencyMs < 0 {
		errs = append(errs, fmt.Errorf("device.mock_latency_ms must not be negative"))
	}
	if c.Telemetry.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.poll_interval_ms must be positive"))
	}

	switch c.Telemetry.ModePolicy {
	case ModePolicyVersioned, ModePolicyLocal, ModePolicyTelemetry:
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.mode_policy %q", c.Telemetry.ModePolicy))
	}

	if z := c.Telemetry.Sinks.ZeroMQ; z.Enabled && z.PublishAddress == "" {
		errs = append(errs, fmt.Errorf("missing required field: telemetry.sinks.zeromq.publish_address"))
	}
	if m := c.Telemetry.Sinks.MQTT; m.Enabled {
		if m.BrokerURL == "" {
			errs = append(errs, fmt.Errorf("missing required field: telemetry.sinks.mqtt.broker_url"))
		} else if _, err := url.Parse(m.BrokerURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid telemetry.sinks.mqtt.broker_url: %w", err))
		}
		if m.QoS < 0 || m.QoS > 2 {
			errs = append(errs, fmt.Errorf("telemetry.sinks.mqtt.qos must be 0, 1 or 2"))
		}
	}

	if v := c.Controls.ServoInitial; v != nil && (*v < robot.ServoMin || *v > robot.ServoMax) {
		errs = append(errs, fmt.Errorf("controls.servo_initial %d outside [%d,%d]", *v, robot.ServoMin, robot.ServoMax))
	}
	for name, v := range c.Controls.ServoPresets {
		if v < robot.ServoMin || v > robot.ServoMax {
			errs = append(errs, fmt.Errorf("controls.servo_presets.%s %d outside [%d,%d]", name, v, robot.ServoMin, robot.ServoMax))
		}
	}
	for key, name := range c.Controls.Keymap {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("controls.keymap contains an empty key"))
			continue
		}
		cmd, err := robot.ParseMoveCommand(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("controls.keymap.%s: %w", key, err))
			continue
		}
		if !cmd.IsMovement() {
			errs = append(errs, fmt.Errorf("controls.keymap.%s: STOP cannot be bound to a key", key))
		}
	}

	seen := make(map[string]bool)
	for _, f := range c.Video.Feeds {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("missing required field: video.feeds[].id"))
			continue
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("duplicate video feed id %q", f.ID))
		}
		seen[f.ID] = true
	}

	return errors.Join(errs...)
}

// PollInterval returns the telemetry period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Telemetry.PollIntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-request bound applied to device calls.
func (d DeviceConfig) RequestTimeout() time.Duration {
	return time.Duration(d.RequestTimeoutMs) * time.Millisecond
}

// MockLatency returns the simulated command round trip in mock mode.
func (d DeviceConfig) MockLatency() time.Duration {
	return time.Duration(d.MockLatencyMs) * time.Millisecond
}

// URL joins the base URL with an endpoint path.
func (d DeviceConfig) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.BaseURL + path
}

// KeyBindings returns the lower-cased keymap resolved to commands. Invalid
// entries are skipped; Validate reports them.
func (c ControlsConfig) KeyBindings() map[string]robot.MoveCommand {
	bindings := make(map[string]robot.MoveCommand, len(c.Keymap))
	for key, name := range c.Keymap {
		cmd, err := robot.ParseMoveCommand(name)
		if err != nil || !cmd.IsMovement() {
			continue
		}
		bindings[strings.ToLower(key)] = cmd
	}
	return bindings
}

// InitialServo returns the gimbal position before any user input.
func (c ControlsConfig) InitialServo() int {
	if c.ServoInitial == nil {
		return robot.ServoCenter
	}
	return robot.ClampServoAngle(*c.ServoInitial)
}

// GetFeed returns a video feed by id
func (c *Config) GetFeed(id string) (FeedConfig, bool) {
	for _, f := range c.Video.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return FeedConfig{}, false
}
