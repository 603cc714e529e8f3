package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/config"
	"github.com/open-teleop/dashboard/pkg/envelope"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// SinkName identifies this sink in logs and metrics.
const SinkName = "mqtt"

const (
	keepAlive       = 30
	connectTimeout  = 5 * time.Second
	reconnectDelay  = 3 * time.Second
	disconnectGrace = 2 * time.Second
)

// ErrNotStarted is returned when publishing before Start.
var ErrNotStarted = errors.New("mqtt publisher not started")

// StatusPublisher publishes each merged status to an MQTT v5 broker. The
// connection is kept up in the background and re-established on loss.
type StatusPublisher struct {
	cfg    config.MQTTSinkConfig
	logger customlog.Logger

	mu        sync.Mutex
	cm        *autopaho.ConnectionManager
	connected atomic.Bool
}

// NewStatusPublisher validates cfg. Call Start to connect.
func NewStatusPublisher(cfg config.MQTTSinkConfig, logger customlog.Logger) (*StatusPublisher, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("missing required field: broker_url")
	}
	if _, err := url.Parse(cfg.BrokerURL); err != nil {
		return nil, fmt.Errorf("invalid broker_url: %w", err)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", cfg.QoS)
	}
	return &StatusPublisher{
		cfg:    cfg,
		logger: logger.WithField("sink", SinkName),
	}, nil
}

// Name implements telemetry.Sink.
func (p *StatusPublisher) Name() string { return SinkName }

func (p *StatusPublisher) clientConfig() autopaho.ClientConfig {
	brokerURL, _ := url.Parse(p.cfg.BrokerURL) // Already validated

	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(reconnectDelay),
		ConnectTimeout:                connectTimeout,
		ConnectUsername:               p.cfg.Username,
		ConnectPassword:               []byte(p.cfg.Password),
		ClientConfig: paho.ClientConfig{
			ClientID:           p.cfg.ClientID,
			OnClientError:      p.onClientError,
			OnServerDisconnect: p.onServerDisconnect,
		},
		OnConnectionUp: p.onConnectionUp,
		OnConnectError: p.onConnectError,
	}
}

// Start begins connecting in the background. ctx bounds the connection
// manager's lifetime.
func (p *StatusPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cm != nil {
		return nil
	}

	p.logger.Infof("Starting MQTT status publisher: broker=%s clientID=%s topic=%s", p.cfg.BrokerURL, p.cfg.ClientID, p.cfg.Topic)
	cm, err := autopaho.NewConnection(ctx, p.clientConfig())
	if err != nil {
		return fmt.Errorf("failed to create MQTT connection: %w", err)
	}
	p.cm = cm
	return nil
}

// Connected reports whether the broker connection is currently up.
func (p *StatusPublisher) Connected() bool {
	return p.connected.Load()
}

// PublishStatus sends the status wrapped in an OttMessage.
func (p *StatusPublisher) PublishStatus(ctx context.Context, status robot.Status) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return ErrNotStarted
	}

	data, err := envelope.EncodeStatus(p.cfg.Topic, status, time.Now())
	if err != nil {
		return err
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.cfg.Topic,
		QoS:     byte(p.cfg.QoS),
		Payload: data,
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *StatusPublisher) Close() error {
	p.mu.Lock()
	cm := p.cm
	p.cm = nil
	p.mu.Unlock()

	if cm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
	defer cancel()
	err := cm.Disconnect(ctx)
	p.connected.Store(false)
	p.logger.Infof("MQTT status publisher disconnected")
	return err
}

func (p *StatusPublisher) onConnectionUp(_ *autopaho.ConnectionManager, _ *paho.Connack) {
	p.connected.Store(true)
	p.logger.Infof("MQTT connection established")
}

func (p *StatusPublisher) onConnectError(err error) {
	p.connected.Store(false)
	p.logger.Warnf("MQTT connection failed, retrying: %v", err)
}

func (p *StatusPublisher) onClientError(err error) {
	p.connected.Store(false)
	p.logger.Errorf("MQTT client error: %v", err)
}

func (p *StatusPublisher) onServerDisconnect(d *paho.Disconnect) {
	p.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	p.logger.Warnf("MQTT server requested disconnect: %s", reason)
}
