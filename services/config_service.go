package services

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// ConfigListener is called with the new configuration after every update.
type ConfigListener func(cfg *config.Config)

// DashboardConfigService defines the interface for managing the operational dashboard configuration.
type DashboardConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	AddListener(l ConfigListener)
}

// ValidationError marks update failures caused by the submitted config
// rather than by the service.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError lets handlers map the error to a 400.
func (e *ValidationError) IsValidationError() bool { return true }

// dashboardConfigService implements the DashboardConfigService interface.
type dashboardConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	listeners             []ConfigListener
	currentConfig         *config.Config
	mu                    sync.RWMutex
}

// NewDashboardConfigService creates a new DashboardConfigService. When the
// file cannot be loaded, fallback (which may be nil) becomes the current config.
func NewDashboardConfigService(operationalConfigPath string, fallback *config.Config, logger customlog.Logger) (DashboardConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &dashboardConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger,
	}

	if err := service.LoadConfig(); err != nil {
		logger.Warnf("Initial load of operational config '%s' failed: %v. Using built-in defaults.", operationalConfigPath, err)
		service.currentConfig = fallback
		return service, nil
	}

	logger.Infof("DashboardConfigService initialized successfully for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads the operational config file from disk and updates the currentConfig.
// On failure the current config is left as it was.
func (s *dashboardConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading operational configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadConfig(s.operationalConfigPath)
	if err != nil {
		s.logger.Errorf("Error loading operational config file '%s': %v", s.operationalConfigPath, err)
		return fmt.Errorf("error loading operational config file '%s': %w", s.operationalConfigPath, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Successfully loaded operational configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns the active configuration. Treat it as read-only;
// changes go through UpdateConfig.
func (s *dashboardConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML returns the operational config file as stored. When
// no file exists yet, the active config is rendered instead.
func (s *dashboardConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	path := s.operationalConfigPath
	current := s.currentConfig
	s.mu.RUnlock()

	s.logger.Debugf("Reading raw operational configuration YAML from: %s", path)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, os.ErrNotExist) && current != nil {
		return yaml.Marshal(current)
	}
	s.logger.Errorf("Error reading operational config file '%s' for YAML export: %v", path, err)
	return nil, fmt.Errorf("error reading operational config file '%s': %w", path, err)
}

// UpdateConfig validates, persists and applies the new configuration, then
// notifies listeners.
func (s *dashboardConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()

	s.logger.Infof("Attempting to update operational configuration from provided YAML")

	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorf("Rejected configuration update: %v", err)
		return &ValidationError{Err: err}
	}
	if newCfg.ConfigID == "" || newCfg.Version == "" || newCfg.RobotID == "" {
		s.mu.Unlock()
		s.logger.Errorf("Validation failed: Missing required fields (ConfigID, Version, RobotID) in provided YAML.")
		return &ValidationError{Err: fmt.Errorf("missing required fields (config_id, version, robot_id)")}
	}

	if s.currentConfig != nil && reflect.DeepEqual(s.currentConfig, newCfg) {
		s.mu.Unlock()
		s.logger.Infof("Provided configuration is identical to the current one. No update needed.")
		return nil
	}

	// Persist before applying so a write failure leaves everything unchanged.
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}

	oldCfgID := "N/A"
	if s.currentConfig != nil {
		oldCfgID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	listeners := append([]ConfigListener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Infof("Successfully updated and persisted operational configuration. ID %s -> %s, Version: %s", oldCfgID, newCfg.ConfigID, newCfg.Version)

	for _, l := range listeners {
		l(newCfg)
	}
	return nil
}

// PersistConfig writes the given YAML data to the operational config file path.
func (s *dashboardConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

// persistConfigUnlocked assumes the caller holds the lock.
func (s *dashboardConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting operational configuration to: %s", s.operationalConfigPath)
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing operational config file '%s': %v", s.operationalConfigPath, err)
		return fmt.Errorf("error writing operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return nil
}

// AddListener registers l for future updates.
func (s *dashboardConfigService) AddListener(l ConfigListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
