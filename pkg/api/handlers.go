package api

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/open-teleop/dashboard/domain/diagnostic"
	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/domain/telemetry"
	"github.com/open-teleop/dashboard/domain/teleop"
	"github.com/open-teleop/dashboard/domain/video"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
)

// AppName is reported by GET /.
const AppName = "Rover Dashboard"

// Deps are the components the HTTP surface drives. Video, Diagnostics and
// Metrics may be nil, in which case their routes are not registered.
type Deps struct {
	Dispatcher  *teleop.Dispatcher
	Store       *telemetry.Store
	Video       *video.VideoService
	Diagnostics *diagnostic.DiagnosticService
	Metrics     *metrics.Metrics
	KeyBindings map[string]robot.MoveCommand
	Logger      customlog.Logger
}

// Server holds the dashboard's HTTP and websocket handlers.
type Server struct {
	deps   Deps
	logger customlog.Logger

	mu       sync.RWMutex
	bindings map[string]robot.MoveCommand
	// REST clients share one keyboard and one button pad.
	keyboard *teleop.Keyboard
	buttons  *teleop.ButtonPad
}

// NewServer creates the handlers. Dispatcher and Store are required.
func NewServer(deps Deps) *Server {
	if deps.Dispatcher == nil || deps.Store == nil {
		panic("Dispatcher and Store cannot be nil in NewServer")
	}
	if deps.Logger == nil {
		deps.Logger = customlog.NewNopLogger()
	}
	s := &Server{
		deps:    deps,
		logger:  deps.Logger.WithField("component", "api"),
		buttons: teleop.NewButtonPad(deps.Dispatcher),
	}
	s.SetKeyBindings(deps.KeyBindings)
	return s
}

// SetKeyBindings replaces the keymap for REST input and new websocket clients.
func (s *Server) SetKeyBindings(bindings map[string]robot.MoveCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = bindings
	s.keyboard = teleop.NewKeyboard(s.deps.Dispatcher, bindings)
}

func (s *Server) keyBindings() map[string]robot.MoveCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bindings
}

func (s *Server) restKeyboard() *teleop.Keyboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyboard
}

// NewApp creates a Fiber app that renders errors as JSON.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               AppName,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})
}

// ErrorHandler returns {"error": "..."} with the fiber error code, or 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// RegisterRoutes mounts every dashboard route on app.
func RegisterRoutes(app *fiber.App, s *Server) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "rover dashboard",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/control", s.handleControl)
	api.Post("/input/key", s.handleKey)
	api.Post("/servo", s.handleServo)
	api.Post("/servo/preset/:name", s.handleServoPreset)
	api.Post("/mode/toggle", s.handleModeToggle)
	api.Get("/controls", s.handleControls)

	if s.deps.Video != nil {
		api.Get("/feeds", s.deps.Video.FeedsHandler)
		app.Get("/video_feed", s.deps.Video.StreamHandler("visual"))
		app.Get("/thermal_feed", s.deps.Video.StreamHandler("thermal"))
	}

	if s.deps.Diagnostics != nil {
		api.Get("/diagnostics", s.deps.Diagnostics.GetMetricsHandler)
	}

	if s.deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	registerWebSocketRoutes(app, s)

	s.logger.Infof("Registered dashboard API endpoints")
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Store.Snapshot())
}

func (s *Server) handleControl(c *fiber.Ctx) error {
	var req ControlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid control request: "+err.Error())
	}
	cmd, err := robot.ParseMoveCommand(req.Command)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if req.Pressed {
		s.buttons.Press(c.UserContext(), cmd)
	} else {
		s.buttons.Release(c.UserContext(), cmd)
	}
	return c.JSON(fiber.Map{"controls": s.deps.Dispatcher.State()})
}

func (s *Server) handleKey(c *fiber.Ctx) error {
	var req KeyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid key request: "+err.Error())
	}

	kb := s.restKeyboard()
	var handled bool
	switch req.Action {
	case ActionDown:
		handled = kb.KeyDown(c.UserContext(), req.Key, req.Repeat)
	case ActionUp:
		handled = kb.KeyUp(c.UserContext(), req.Key)
	default:
		return fiber.NewError(http.StatusBadRequest, "action must be \"down\" or \"up\"")
	}
	return c.JSON(fiber.Map{
		"handled":  handled,
		"controls": s.deps.Dispatcher.State(),
	})
}

func (s *Server) handleServo(c *fiber.Ctx) error {
	var req ServoRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid servo request: "+err.Error())
	}
	if req.Angle == nil {
		return fiber.NewError(http.StatusBadRequest, "missing required field: angle")
	}
	angle := s.deps.Dispatcher.OnServoDrag(c.UserContext(), *req.Angle)
	return c.JSON(fiber.Map{"angle": angle})
}

func (s *Server) handleServoPreset(c *fiber.Ctx) error {
	angle, err := s.deps.Dispatcher.OnServoPreset(c.UserContext(), c.Params("name"))
	if errors.Is(err, teleop.ErrUnknownPreset) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"angle": angle})
}

func (s *Server) handleModeToggle(c *fiber.Ctx) error {
	mode := s.deps.Dispatcher.OnModeToggle(c.UserContext())
	return c.JSON(fiber.Map{"mode": mode})
}

func (s *Server) handleControls(c *fiber.Ctx) error {
	bindings := s.keyBindings()
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	keymap := make([]fiber.Map, 0, len(keys))
	for _, k := range keys {
		keymap = append(keymap, fiber.Map{"key": k, "command": bindings[k]})
	}

	return c.JSON(fiber.Map{
		"controls": s.deps.Dispatcher.State(),
		"presets":  s.deps.Dispatcher.Presets(),
		"keymap":   keymap,
		"servo": fiber.Map{
			"min": robot.ServoMin,
			"max": robot.ServoMax,
		},
	})
}
