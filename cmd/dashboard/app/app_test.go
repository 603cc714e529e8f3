package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-teleop/dashboard/cmd/dashboard/app/options"
	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/config"
	"github.com/open-teleop/dashboard/pkg/gateway"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/services"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewDashboardCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config-dir", t.TempDir()))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusTable(t *testing.T) {
	out := StatusTable(gateway.NameMock, robot.MockStatus()).String()
	for _, want := range []string{"ONLINE", "MANUAL", "12.4 V", "45.2 °C", "40.7128, -74.0060 (8 sats)", "45°"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table:\n%s", want, out)
		}
	}

	out = StatusTable(gateway.NameLive, robot.FallbackStatus()).String()
	if !strings.Contains(out, "OFFLINE") || !strings.Contains(out, "0.0 V") {
		t.Errorf("Unexpected fallback table:\n%s", out)
	}
}

func TestOneShotCommandsAgainstMock(t *testing.T) {
	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "12.4 V") {
		t.Errorf("Expected mock telemetry, got:\n%s", out)
	}

	out, err = execute(t, "servo", "999")
	if err != nil || !strings.Contains(out, "servo set to 150") {
		t.Errorf("Expected clamped servo, got %q (%v)", out, err)
	}

	out, err = execute(t, "send", "rotate_cw")
	if err != nil || !strings.Contains(out, "sent ROTATE_CW") {
		t.Errorf("Unexpected send output %q (%v)", out, err)
	}

	out, err = execute(t, "mode", "automatic")
	if err != nil || !strings.Contains(out, "mode set to AUTOMATIC") {
		t.Errorf("Unexpected mode output %q (%v)", out, err)
	}
}

func TestOneShotCommandsRejectBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"send", "JUMP"},
		{"servo", "ninety"},
		{"mode", "cruise"},
		{"send"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("Expected error for %v", args)
		}
	}
}

func TestDashboardWiring(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	logger := customlog.NewNopLogger()
	cfgSvc, err := services.NewDashboardConfigService(path, config.Default(), logger)
	if err != nil {
		t.Fatalf("NewDashboardConfigService failed: %v", err)
	}

	d, err := newDashboard(context.Background(), cfgSvc, options.NewOptions(), logger, nil)
	if err != nil {
		t.Fatalf("newDashboard failed: %v", err)
	}
	if d.gateway.Name() != gateway.NameMock {
		t.Errorf("Expected mock gateway, got %s", d.gateway.Name())
	}
	if len(d.relay.Sinks()) != 0 {
		t.Errorf("Expected no sinks by default, got %v", d.relay.Sinks())
	}

	resp, err := d.app.Test(httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil))
	if err != nil {
		t.Fatalf("GET /api/diagnostics failed: %v", err)
	}
	var body struct {
		Metrics struct {
			Gateway    string `json:"gateway"`
			ModePolicy string `json:"mode_policy"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode diagnostics: %v", err)
	}
	resp.Body.Close()
	if body.Metrics.Gateway != gateway.NameMock || body.Metrics.ModePolicy != config.ModePolicyVersioned {
		t.Errorf("Unexpected diagnostics %+v", body.Metrics)
	}

	// A config update through the API reaches the running components.
	update := "version: \"2\"\nconfig_id: c2\nrobot_id: rover\n" +
		"device: {mock: true}\n" +
		"telemetry: {mode_policy: local}\n" +
		"controls: {keymap: {i: FORWARD}}\n"
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/dashboard", strings.NewReader(update))
	req.Header.Set("Content-Type", "application/x-yaml")
	resp, err = d.app.Test(req)
	if err != nil {
		t.Fatalf("PUT config failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if d.store.Policy() != "local" {
		t.Errorf("Expected mode policy local after update, got %s", d.store.Policy())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/input/key", strings.NewReader(`{"key":"i","action":"down"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = d.app.Test(req)
	if err != nil {
		t.Fatalf("POST key failed: %v", err)
	}
	var keyResp struct {
		Handled bool `json:"handled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&keyResp); err != nil {
		t.Fatalf("Failed to decode key response: %v", err)
	}
	resp.Body.Close()
	if !keyResp.Handled {
		t.Errorf("Expected new key binding to be active")
	}
}
