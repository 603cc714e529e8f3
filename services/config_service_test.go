package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

const validYAML = `
version: "1.0"
config_id: "cfg-1"
robot_id: "rover"
device:
  mock: true
`

func TestServiceFallsBackWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")

	svc, err := NewDashboardConfigService(path, config.Default(), customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewDashboardConfigService failed: %v", err)
	}
	if svc.GetCurrentConfig() == nil || svc.GetCurrentConfig().ConfigID != "default" {
		t.Fatalf("Expected default config, got %+v", svc.GetCurrentConfig())
	}

	data, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML failed: %v", err)
	}
	if !strings.Contains(string(data), "config_id: default") {
		t.Errorf("Expected rendered defaults, got:\n%s", data)
	}
}

func TestUpdateConfigPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	svc, err := NewDashboardConfigService(path, config.Default(), customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewDashboardConfigService failed: %v", err)
	}

	var notified []*config.Config
	svc.AddListener(func(cfg *config.Config) { notified = append(notified, cfg) })

	if err := svc.UpdateConfig([]byte(validYAML)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	if len(notified) != 1 || notified[0].ConfigID != "cfg-1" {
		t.Fatalf("Expected one notification with cfg-1, got %v", notified)
	}
	if svc.GetCurrentConfig().PollInterval().Seconds() != 2 {
		t.Errorf("Defaults should be applied to updated config")
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Config not persisted: %v", err)
	}
	if string(onDisk) != validYAML {
		t.Errorf("Persisted YAML differs from submitted YAML")
	}

	// Same content again: no second notification.
	if err := svc.UpdateConfig([]byte(validYAML)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if len(notified) != 1 {
		t.Errorf("Identical update should not notify, got %d notifications", len(notified))
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	svc, _ := NewDashboardConfigService(path, config.Default(), customlog.NewNopLogger())

	cases := map[string]string{
		"invalid yaml":    "device: [",
		"missing ids":     "device: {mock: true}\n",
		"invalid keymap":  validYAML + "controls: {keymap: {w: JUMP}}\n",
		"bad mode policy": validYAML + "telemetry: {mode_policy: sometimes}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			err := svc.UpdateConfig([]byte(body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if !verr.IsValidationError() {
				t.Errorf("IsValidationError should be true")
			}
		})
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Rejected updates must not be persisted")
	}
	if svc.GetCurrentConfig().ConfigID != "default" {
		t.Errorf("Rejected updates must not be applied")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	svc, err := NewDashboardConfigService(path, nil, customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewDashboardConfigService failed: %v", err)
	}
	if svc.GetCurrentConfig() == nil || svc.GetCurrentConfig().ConfigID != "cfg-1" {
		t.Errorf("Expected cfg-1 loaded from file")
	}

	data, err := svc.GetCurrentConfigYAML()
	if err != nil || string(data) != validYAML {
		t.Errorf("Expected raw file content, got %q (%v)", data, err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := NewDashboardConfigService("", nil, nil); err == nil {
		t.Errorf("Expected error for empty path")
	}
}
