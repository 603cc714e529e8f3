package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/domain/teleop"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

func registerWebSocketRoutes(app *fiber.App, s *Server) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/control", websocket.New(s.ControlWebSocketHandler))
	app.Get("/ws/telemetry", websocket.New(s.TelemetryWebSocketHandler))
}

// controlSession is the input state owned by one control connection.
type controlSession struct {
	d        *teleop.Dispatcher
	keyboard *teleop.Keyboard
	buttons  *teleop.ButtonPad
}

func newControlSession(d *teleop.Dispatcher, bindings map[string]robot.MoveCommand) *controlSession {
	return &controlSession{
		d:        d,
		keyboard: teleop.NewKeyboard(d, bindings),
		buttons:  teleop.NewButtonPad(d),
	}
}

// handle applies one event and returns the reply to send back.
func (cs *controlSession) handle(ctx context.Context, ev ControlEvent) ControlReply {
	handled, err := cs.apply(ctx, ev)
	reply := ControlReply{Type: "ack", Handled: handled, Controls: cs.d.State()}
	if err != nil {
		reply.Type = "error"
		reply.Error = err.Error()
	}
	return reply
}

func (cs *controlSession) apply(ctx context.Context, ev ControlEvent) (bool, error) {
	switch ev.Type {
	case EventKey:
		switch ev.Action {
		case ActionDown:
			return cs.keyboard.KeyDown(ctx, ev.Key, ev.Repeat), nil
		case ActionUp:
			return cs.keyboard.KeyUp(ctx, ev.Key), nil
		}
		return false, fmt.Errorf("unknown key action %q", ev.Action)

	case EventButton:
		cmd, err := robot.ParseMoveCommand(ev.Command)
		if err != nil {
			return false, err
		}
		switch ev.Action {
		case ActionPress:
			cs.buttons.Press(ctx, cmd)
			return true, nil
		case ActionRelease:
			cs.buttons.Release(ctx, cmd)
			return true, nil
		case ActionLeave:
			return cs.buttons.Leave(ctx, cmd), nil
		}
		return false, fmt.Errorf("unknown button action %q", ev.Action)

	case EventServo:
		cs.d.OnServoDrag(ctx, ev.Angle)
		return true, nil

	case EventPreset:
		if _, err := cs.d.OnServoPreset(ctx, ev.Preset); err != nil {
			return false, err
		}
		return true, nil

	case EventModeToggle:
		cs.d.OnModeToggle(ctx)
		return true, nil
	}
	return false, fmt.Errorf("unknown event type %q", ev.Type)
}

// close releases anything the client was holding so a dropped connection
// cannot leave the rover moving.
func (cs *controlSession) close(ctx context.Context) bool {
	released := cs.keyboard.ReleaseAll(ctx)
	if cs.buttons.ReleaseAll(ctx) {
		released = true
	}
	return released
}

// ControlWebSocketHandler handles incoming WebSocket messages for rover control.
func (s *Server) ControlWebSocketHandler(conn *websocket.Conn) {
	logger := s.logger.WithField("remote", conn.RemoteAddr().String())
	logger.Infof("Control WebSocket connected")

	session := newControlSession(s.deps.Dispatcher, s.keyBindings())
	defer func() {
		if session.close(context.Background()) {
			logger.Warnf("Control WebSocket dropped while a control was held; sent STOP")
		}
		logger.Infof("Control WebSocket disconnected")
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logClose(logger, "Control", err)
			return
		}
		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		var ev ControlEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.Warnf("Failed to unmarshal control event from WS: %v. Message: %s", err, string(msg))
			continue
		}

		reply := session.handle(context.Background(), ev)
		if reply.Error != "" {
			logger.Warnf("Rejected control event %+v: %s", ev, reply.Error)
		}
		if err := conn.WriteJSON(reply); err != nil {
			logClose(logger, "Control", err)
			return
		}
	}
}

// TelemetryWebSocketHandler pushes the current status on connect and every
// change after it.
func (s *Server) TelemetryWebSocketHandler(conn *websocket.Conn) {
	logger := s.logger.WithField("remote", conn.RemoteAddr().String())
	logger.Infof("Telemetry WebSocket connected")

	if s.deps.Diagnostics != nil {
		s.deps.Diagnostics.ClientConnected()
		defer s.deps.Diagnostics.ClientDisconnected()
	}
	s.deps.Metrics.AddTelemetryClients(1)
	defer s.deps.Metrics.AddTelemetryClients(-1)

	updates, cancel := s.deps.Store.Subscribe()
	defer cancel()

	// Clients never send anything meaningful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClose(logger, "Telemetry", err)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			logger.Infof("Telemetry WebSocket disconnected")
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(TelemetryMessage{Type: "status", Status: status}); err != nil {
				logClose(logger, "Telemetry", err)
				return
			}
		}
	}
}

func logClose(logger customlog.Logger, name string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		logger.Errorf("%s WS read error: %v", name, err)
		return
	}
	// Don't log normal closures as errors
	if !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
		logger.Infof("%s WS connection closed: %v", name, err)
	}
}
