package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/open-teleop/dashboard/cmd/dashboard/app/options"
	"github.com/open-teleop/dashboard/domain/diagnostic"
	"github.com/open-teleop/dashboard/domain/telemetry"
	"github.com/open-teleop/dashboard/domain/teleop"
	"github.com/open-teleop/dashboard/domain/video"
	"github.com/open-teleop/dashboard/pkg/api"
	"github.com/open-teleop/dashboard/pkg/config"
	"github.com/open-teleop/dashboard/pkg/gateway"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
	"github.com/open-teleop/dashboard/pkg/mqtt"
	"github.com/open-teleop/dashboard/pkg/zeromq"
	"github.com/open-teleop/dashboard/services"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := complete(cmd, opts); err != nil {
				return err
			}
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options.Options) error {
	boot, defaulted, err := opts.Bootstrap()
	if err != nil {
		return fmt.Errorf("failed to load bootstrap config: %w", err)
	}

	logger, err := customlog.NewLogrusLogger(boot.Logging.Level, boot.Logging.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if defaulted {
		logger.Warnf("No %s in %s; using built-in bootstrap defaults", config.BootstrapFileName, opts.ConfigDir)
	}
	logger.Infof("Operational config: %s", boot.DashboardConfigPath())

	cfgSvc, err := services.NewDashboardConfigService(boot.DashboardConfigPath(), config.Default(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize config service: %w", err)
	}

	d, err := newDashboard(ctx, cfgSvc, opts, logger, os.Stdout)
	if err != nil {
		return err
	}
	return d.run(ctx, boot.Server.HTTPPort)
}

// dashboard is the assembled server.
type dashboard struct {
	cfg        *config.Config
	logger     customlog.Logger
	metrics    *metrics.Metrics
	store      *telemetry.Store
	gateway    gateway.Gateway
	dispatcher *teleop.Dispatcher
	poller     *telemetry.Poller
	relay      *telemetry.Relay
	video      *video.VideoService
	server     *api.Server
	app        *fiber.App
}

// newDashboard wires every component from the active config. Request logs
// go to accessLog; nil disables them.
func newDashboard(ctx context.Context, cfgSvc services.DashboardConfigService, opts *options.Options, logger customlog.Logger, accessLog io.Writer) (*dashboard, error) {
	cfg, err := opts.Apply(cfgSvc.GetCurrentConfig())
	if err != nil {
		return nil, err
	}
	policy, err := telemetry.ParseModePolicy(cfg.Telemetry.ModePolicy)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	store := telemetry.NewStore(policy)
	gw := gateway.New(cfg.Device, logger, m)
	logger.Infof("Using %s gateway (robot=%s, base_url=%s)", gw.Name(), cfg.RobotID, cfg.Device.BaseURL)

	dispatcher := teleop.NewDispatcher(gw, store, teleop.DispatcherConfig{
		InitialServo: cfg.Controls.InitialServo(),
		ServoPresets: cfg.Controls.ServoPresets,
		Metrics:      m,
	}, logger)

	poller := telemetry.NewPoller(gw, store, telemetry.PollerConfig{
		Interval: cfg.PollInterval(),
		Timeout:  cfg.Device.RequestTimeout(),
		Metrics:  m,
	}, logger)

	sinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	relay := telemetry.NewRelay(store, sinks, logger, m)

	videoSvc := video.NewVideoService(cfg, func() bool { return store.Snapshot().Online }, logger)
	diag := diagnostic.NewDiagnosticService(diagnostic.Sources{
		RobotID:    cfg.RobotID,
		Gateway:    gw.Name(),
		Store:      store,
		Poller:     poller,
		Dispatcher: dispatcher,
		Relay:      relay,
	})

	server := api.NewServer(api.Deps{
		Dispatcher:  dispatcher,
		Store:       store,
		Video:       videoSvc,
		Diagnostics: diag,
		Metrics:     m,
		KeyBindings: cfg.Controls.KeyBindings(),
		Logger:      logger,
	})

	app := api.NewApp()
	if accessLog != nil {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: accessLog}))
	}
	app.Use(recover.New())
	api.RegisterRoutes(app, server)
	api.RegisterConfigRoutes(app, cfgSvc, logger)

	d := &dashboard{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		store:      store,
		gateway:    gw,
		dispatcher: dispatcher,
		poller:     poller,
		relay:      relay,
		video:      videoSvc,
		server:     server,
		app:        app,
	}
	cfgSvc.AddListener(d.applyConfig(opts))
	return d, nil
}

// buildSinks creates the enabled telemetry publishers.
func buildSinks(ctx context.Context, cfg *config.Config, logger customlog.Logger) ([]telemetry.Sink, error) {
	var sinks []telemetry.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if z := cfg.Telemetry.Sinks.ZeroMQ; z.Enabled {
		pub, err := zeromq.NewStatusPublisher(z, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZeroMQ sink: %w", err)
		}
		sinks = append(sinks, pub)
	}

	if mc := cfg.Telemetry.Sinks.MQTT; mc.Enabled {
		pub, err := mqtt.NewStatusPublisher(mc, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create MQTT sink: %w", err)
		}
		if err := pub.Start(ctx); err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pub)
	}
	return sinks, nil
}

// applyConfig returns the listener that pushes runtime config updates into
// the running components. The gateway implementation and poll interval are
// fixed at startup.
func (d *dashboard) applyConfig(opts *options.Options) services.ConfigListener {
	return func(updated *config.Config) {
		cfg, err := opts.Apply(updated)
		if err != nil {
			d.logger.Errorf("Ignoring configuration update: %v", err)
			return
		}
		if cfg.Device.Mock != d.cfg.Device.Mock {
			d.logger.Warnf("Switching between mock and live gateways requires a restart")
			cfg.Device.Mock = d.cfg.Device.Mock
		}
		if cfg.PollInterval() != d.cfg.PollInterval() {
			d.logger.Warnf("Poll interval change to %v applies on restart", cfg.PollInterval())
		}

		if r, ok := d.gateway.(gateway.Reconfigurable); ok {
			r.Reconfigure(cfg.Device)
		}
		d.video.Reconfigure(cfg)
		d.server.SetKeyBindings(cfg.Controls.KeyBindings())
		if policy, err := telemetry.ParseModePolicy(cfg.Telemetry.ModePolicy); err == nil {
			d.store.SetPolicy(policy)
		}
		d.logger.Infof("Applied configuration %s (version %s)", cfg.ConfigID, cfg.Version)
	}
}

// run serves until ctx is done, then shuts everything down.
func (d *dashboard) run(ctx context.Context, port int) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := d.poller.Start(gctx); err != nil {
		return fmt.Errorf("failed to start telemetry poller: %w", err)
	}

	g.Go(func() error {
		return d.relay.Run(gctx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", port)
		d.logger.Infof("Server starting on %s", addr)
		if err := d.app.Listen(addr); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown()
	})

	err := g.Wait()
	if cerr := d.relay.Close(); cerr != nil {
		d.logger.Errorf("Failed to close telemetry sinks: %v", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Infof("Server exited properly")
	return nil
}

func (d *dashboard) shutdown() error {
	d.logger.Infof("Shutting down server...")
	d.poller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
