package diagnostic

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/domain/telemetry"
	"github.com/open-teleop/dashboard/domain/teleop"
)

// SystemMetrics is the dashboard's own health snapshot.
type SystemMetrics struct {
	Timestamp        time.Time           `json:"timestamp"`
	Uptime           string              `json:"uptime"`
	RobotID          string              `json:"robot_id"`
	Gateway          string              `json:"gateway"`
	ModePolicy       string              `json:"mode_policy"`
	Poller           telemetry.Stats     `json:"poller"`
	Controls         teleop.ControlState `json:"controls"`
	Robot            robot.Status        `json:"robot"`
	TelemetryClients int64               `json:"telemetry_clients"`
	Sinks            []string            `json:"sinks"`
	Goroutines       int                 `json:"goroutines"`
	HeapAllocBytes   uint64              `json:"heap_alloc_bytes"`
}

// Sources are the components a snapshot reads from. Any may be nil.
type Sources struct {
	RobotID    string
	Gateway    string
	Store      *telemetry.Store
	Poller     *telemetry.Poller
	Dispatcher *teleop.Dispatcher
	Relay      *telemetry.Relay
}

// DiagnosticService reports on the dashboard itself
type DiagnosticService struct {
	src     Sources
	started time.Time
	clients atomic.Int64
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(src Sources) *DiagnosticService {
	return &DiagnosticService{
		src:     src,
		started: time.Now(),
	}
}

// ClientConnected and ClientDisconnected track telemetry websocket clients.
func (s *DiagnosticService) ClientConnected() { s.clients.Add(1) }

func (s *DiagnosticService) ClientDisconnected() { s.clients.Add(-1) }

// TelemetryClients returns the connected client count.
func (s *DiagnosticService) TelemetryClients() int64 { return s.clients.Load() }

// GetMetrics collects a snapshot
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	m := SystemMetrics{
		Timestamp:        now,
		Uptime:           now.Sub(s.started).Truncate(time.Second).String(),
		RobotID:          s.src.RobotID,
		Gateway:          s.src.Gateway,
		TelemetryClients: s.clients.Load(),
		Sinks:            []string{},
		Goroutines:       runtime.NumGoroutine(),
		HeapAllocBytes:   mem.HeapAlloc,
	}
	if s.src.Store != nil {
		m.Robot = s.src.Store.Snapshot()
		m.ModePolicy = string(s.src.Store.Policy())
	}
	if s.src.Poller != nil {
		m.Poller = s.src.Poller.Stats()
	}
	if s.src.Dispatcher != nil {
		m.Controls = s.src.Dispatcher.State()
	}
	if s.src.Relay != nil {
		m.Sinks = s.src.Relay.Sinks()
	}
	return m
}

// GetMetricsHandler handles API requests for dashboard diagnostics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}
