package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

func parse(t *testing.T, args ...string) *Options {
	t.Helper()
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := o.Complete(fs); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	return o
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("DASHBOARD_PORT", "9090")
	t.Setenv("DASHBOARD_BASE_URL", "http://env-rover:5000")

	o := parse(t, "--base-url", "http://flag-rover:5000")
	if o.Port != 9090 {
		t.Errorf("Expected port from environment, got %d", o.Port)
	}
	if o.BaseURL != "http://flag-rover:5000" {
		t.Errorf("Expected flag to win over environment, got %s", o.BaseURL)
	}
	if o.ConfigDir != DefaultConfigDir {
		t.Errorf("Expected default config dir, got %s", o.ConfigDir)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string][]string{
		"bad url":   {"--base-url", "not a url"},
		"bad port":  {"--port", "70000"},
		"bad level": {"--log-level", "loud"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if err := parse(t, args...).Validate(); err == nil {
				t.Errorf("Expected validation error for %v", args)
			}
		})
	}

	if err := parse(t, "--port", "8081", "--log-level", "debug").Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestApplyOverrides(t *testing.T) {
	// --base-url alone switches to the live gateway.
	cfg, err := parse(t, "--base-url", "http://rover.lan:5000/").Apply(config.Default())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.Device.Mock || cfg.Device.BaseURL != "http://rover.lan:5000" {
		t.Errorf("Expected live device at rover.lan, got %+v", cfg.Device)
	}

	cfg, err = parse(t, "--base-url", "http://rover.lan:5000", "--mock").Apply(config.Default())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !cfg.Device.Mock {
		t.Errorf("Explicit --mock must win")
	}

	original := config.Default()
	cfg, err = parse(t, "--mock=false").Apply(original)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.Device.Mock {
		t.Errorf("Expected --mock=false to select the live gateway")
	}
	if !original.Device.Mock {
		t.Errorf("Apply must not modify its input")
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	original := &config.Config{
		Version:  "1",
		ConfigID: "c",
		RobotID:  "r",
		Controls: config.ControlsConfig{
			Keymap:       map[string]string{"i": "FORWARD"},
			ServoPresets: map[string]int{"center": 75},
		},
		Video: config.VideoConfig{Feeds: []config.FeedConfig{{ID: "visual"}}},
	}

	cfg, err := parse(t, "--mock").Apply(original)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.Video.Feeds[0].Placeholder == "" {
		t.Errorf("Expected defaults applied to the copy")
	}
	cfg.Controls.Keymap["k"] = "BACKWARD"
	cfg.Controls.ServoPresets["max"] = 150

	if f := original.Video.Feeds[0]; f.Placeholder != "" || f.Path != "" {
		t.Errorf("Input feeds were modified: %+v", f)
	}
	if len(original.Controls.Keymap) != 1 || len(original.Controls.ServoPresets) != 1 {
		t.Errorf("Input maps were modified: %v %v", original.Controls.Keymap, original.Controls.ServoPresets)
	}
	if original.Controls.ServoInitial != nil {
		t.Errorf("Input servo_initial was set")
	}
}

func TestBootstrapDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	b, defaulted, err := parse(t, "--config-dir", dir, "--port", "9000").Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if !defaulted {
		t.Errorf("Expected defaults to be used")
	}
	if b.Server.HTTPPort != 9000 {
		t.Errorf("Expected port override, got %d", b.Server.HTTPPort)
	}
}

func TestLoadConfigFromDataDirectory(t *testing.T) {
	dir := t.TempDir()
	bootstrap := "data:\n  directory: data\n  dashboard_config_file: rover.yaml\n"
	if err := os.WriteFile(filepath.Join(dir, config.BootstrapFileName), []byte(bootstrap), 0644); err != nil {
		t.Fatalf("Failed to write bootstrap: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}
	operational := "version: \"1\"\nconfig_id: c\nrobot_id: r\ndevice:\n  base_url: http://rover:5000\n"
	if err := os.WriteFile(filepath.Join(dir, "data", "rover.yaml"), []byte(operational), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := parse(t, "--config-dir", dir).LoadConfig(customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Device.Mock || cfg.Device.BaseURL != "http://rover:5000" {
		t.Errorf("Expected live config from file, got %+v", cfg.Device)
	}
}
