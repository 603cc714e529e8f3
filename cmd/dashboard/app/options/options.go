package options

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// EnvPrefix namespaces environment overrides, e.g. DASHBOARD_BASE_URL.
const EnvPrefix = "DASHBOARD"

// DefaultConfigDir is searched for the bootstrap file when --config-dir is unset.
const DefaultConfigDir = "./configs"

// Flag names. Each is also read from DASHBOARD_<NAME> with dashes as underscores.
const (
	flagConfigDir = "config-dir"
	flagBaseURL   = "base-url"
	flagMock      = "mock"
	flagPort      = "port"
	flagLogLevel  = "log-level"
)

// Options are the command line and environment overrides shared by every
// subcommand.
type Options struct {
	ConfigDir string
	BaseURL   string
	Mock      bool
	Port      int
	LogLevel  string

	mockSet bool
}

func NewOptions() *Options {
	return &Options{ConfigDir: DefaultConfigDir}
}

// AddFlags registers the flags on fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.String(flagConfigDir, o.ConfigDir, "Directory containing "+config.BootstrapFileName)
	fs.String(flagBaseURL, "", "Rover base URL; implies live mode unless --mock is given")
	fs.Bool(flagMock, false, "Use the simulated rover instead of the device")
	fs.Int(flagPort, 0, "HTTP port for the dashboard (overrides server.http_port)")
	fs.String(flagLogLevel, "", "Log level: debug, info, warn or error (overrides logging.level)")
}

// Complete resolves flags and environment into o. Flags win over the
// environment, which wins over flag defaults.
func (o *Options) Complete(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	o.ConfigDir = v.GetString(flagConfigDir)
	o.BaseURL = strings.TrimSpace(v.GetString(flagBaseURL))
	o.mockSet = v.IsSet(flagMock)
	o.Mock = v.GetBool(flagMock)
	o.Port = v.GetInt(flagPort)
	o.LogLevel = v.GetString(flagLogLevel)
	return nil
}

// Validate checks the overrides themselves; the merged config is validated later.
func (o *Options) Validate() error {
	var errs []error

	if o.ConfigDir == "" {
		errs = append(errs, fmt.Errorf("--%s must not be empty", flagConfigDir))
	}
	if o.BaseURL != "" {
		if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid --%s %q", flagBaseURL, o.BaseURL))
		}
	}
	if o.Port < 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid --%s %d", flagPort, o.Port))
	}
	if o.LogLevel != "" {
		if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid --%s: %w", flagLogLevel, err))
		}
	}

	return errors.Join(errs...)
}

// Bootstrap loads the bootstrap file from ConfigDir, or built-in defaults
// when there is none, and applies the port and log level overrides.
func (o *Options) Bootstrap() (*config.BootstrapConfig, bool, error) {
	b, err := config.LoadBootstrapConfig(o.ConfigDir)
	defaulted := false
	if errors.Is(err, os.ErrNotExist) {
		b, defaulted = config.DefaultBootstrapConfig(o.ConfigDir), true
	} else if err != nil {
		return nil, false, err
	}

	if o.Port != 0 {
		b.Server.HTTPPort = o.Port
	}
	if o.LogLevel != "" {
		b.Logging.Level = o.LogLevel
	}
	return b, defaulted, nil
}

// Apply returns a copy of cfg with the device overrides applied and validated.
func (o *Options) Apply(cfg *config.Config) (*config.Config, error) {
	c := cfg.Clone()
	if o.BaseURL != "" {
		c.Device.BaseURL = o.BaseURL
		c.Device.Mock = false
	}
	if o.mockSet {
		c.Device.Mock = o.Mock
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after overrides: %w", err)
	}
	return c, nil
}

// LoadConfig reads the operational config named by the bootstrap file, or
// uses built-in defaults when it does not exist, then applies overrides.
func (o *Options) LoadConfig(logger customlog.Logger) (*config.Config, error) {
	b, _, err := o.Bootstrap()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(b.DashboardConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		logger.Debugf("No operational config at %s, using defaults", b.DashboardConfigPath())
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}
	return o.Apply(cfg)
}
