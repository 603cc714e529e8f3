package zeromq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/config"
	"github.com/open-teleop/dashboard/pkg/envelope"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("zeromq publisher is closed")

// SinkName identifies this sink in logs and metrics.
const SinkName = "zeromq"

// StatusPublisher publishes each merged status on a PUB socket as a topic
// frame followed by an OttMessage frame.
type StatusPublisher struct {
	ctx     *zmq4.Context
	socket  *zmq4.Socket
	topic   string
	address string
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

// NewStatusPublisher binds a PUB socket to cfg.PublishAddress.
func NewStatusPublisher(cfg config.ZeroMQSinkConfig, logger customlog.Logger) (*StatusPublisher, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZeroMQ context: %w", err)
	}

	socket, err := zctx.NewSocket(zmq4.PUB)
	if err != nil {
		zctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		zctx.Term()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(cfg.PublishAddress); err != nil {
		socket.Close()
		zctx.Term()
		return nil, fmt.Errorf("failed to bind to %s: %w", cfg.PublishAddress, err)
	}

	logger.Infof("ZeroMQ status publisher bound on %s (topic %s)", cfg.PublishAddress, cfg.Topic)

	return &StatusPublisher{
		ctx:     zctx,
		socket:  socket,
		topic:   cfg.Topic,
		address: cfg.PublishAddress,
		logger:  logger.WithField("sink", SinkName),
		running: true,
	}, nil
}

// Name implements telemetry.Sink.
func (p *StatusPublisher) Name() string { return SinkName }

// PublishStatus sends the status wrapped in an OttMessage.
func (p *StatusPublisher) PublishStatus(_ context.Context, status robot.Status) error {
	data, err := envelope.EncodeStatus(p.topic, status, time.Now())
	if err != nil {
		return err
	}
	return p.PublishMessage(p.topic, data)
}

// PublishMessage sends a message with the given topic
func (p *StatusPublisher) PublishMessage(topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrPublisherClosed
	}

	// Send two messages in sequence (topic first, then message)
	if _, err := p.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := p.socket.SendBytes(data, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close releases the socket and context. It is safe to call more than once.
func (p *StatusPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	var errs []error
	if err := p.socket.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close socket: %w", err))
	}
	if err := p.ctx.Term(); err != nil {
		errs = append(errs, fmt.Errorf("failed to terminate context: %w", err))
	}
	p.logger.Infof("ZeroMQ status publisher on %s closed", p.address)
	return errors.Join(errs...)
}
