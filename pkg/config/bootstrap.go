package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is looked up inside the config directory passed on the command line.
const BootstrapFileName = "dashboard_config.yaml"

// BootstrapConfig holds the initial configuration loaded from dashboard_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig         `yaml:"logging"`
	Server  BootstrapServerConfig `yaml:"server"`
	Data    DataConfig            `yaml:"data"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// BootstrapServerConfig holds the dashboard's own HTTP listener settings.
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory               string `yaml:"directory"`
	DashboardConfigFilename string `yaml:"dashboard_config_file"`
}

// DefaultHTTPPort is used when server.http_port is unset.
const DefaultHTTPPort = 8080

// LoadBootstrapConfig loads the bootstrap configuration from dashboard_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.DashboardConfigFilename == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.dashboard_config_file")
	}

	if bootstrapCfg.Logging.Level == "" {
		bootstrapCfg.Logging.Level = "info"
	}
	if bootstrapCfg.Server.HTTPPort == 0 {
		bootstrapCfg.Server.HTTPPort = DefaultHTTPPort
	}
	if bootstrapCfg.Server.HTTPPort < 0 || bootstrapCfg.Server.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid server.http_port %d in bootstrap config", bootstrapCfg.Server.HTTPPort)
	}

	// Relative data directories are resolved against the config directory.
	if !filepath.IsAbs(bootstrapCfg.Data.Directory) {
		bootstrapCfg.Data.Directory = filepath.Join(configDir, bootstrapCfg.Data.Directory)
	}

	return &bootstrapCfg, nil
}

// DefaultBootstrapConfig is used when configDir has no bootstrap file:
// info logging to stdout, port 8080, operational config at <configDir>/dashboard.yaml.
func DefaultBootstrapConfig(configDir string) *BootstrapConfig {
	return &BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Server:  BootstrapServerConfig{HTTPPort: DefaultHTTPPort},
		Data: DataConfig{
			Directory:               configDir,
			DashboardConfigFilename: "dashboard.yaml",
		},
	}
}

// DashboardConfigPath returns the location of the operational config file.
func (b *BootstrapConfig) DashboardConfigPath() string {
	return filepath.Join(b.Data.Directory, b.Data.DashboardConfigFilename)
}
