package telemetry

import (
	"context"
	"errors"

	"github.com/open-teleop/dashboard/domain/robot"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
	"github.com/open-teleop/dashboard/pkg/processing"
)

// sinkQueueSize bounds how far a slow sink may fall behind before statuses
// for it are dropped.
const sinkQueueSize = 4

// Sink receives every merged status, e.g. a message bus publisher.
type Sink interface {
	Name() string
	PublishStatus(ctx context.Context, status robot.Status) error
	Close() error
}

// Relay forwards store changes to its sinks. Each sink is drained by its own
// worker so a slow sink delays nobody else. Sink failures are logged and
// never reach the poller.
type Relay struct {
	store   *Store
	sinks   []Sink
	pools   []*processing.ProcessingPool
	logger  customlog.Logger
	metrics *metrics.Metrics
}

// NewRelay creates a relay over the given sinks.
func NewRelay(store *Store, sinks []Sink, logger customlog.Logger, m *metrics.Metrics) *Relay {
	r := &Relay{
		store:   store,
		sinks:   sinks,
		logger:  logger.WithField("component", "relay"),
		metrics: m,
	}
	for _, s := range sinks {
		sink := s
		pool := processing.NewProcessingPool("sink-"+sink.Name(), 1, sinkQueueSize, sink.PublishStatus, r.logger)
		pool.SetResultHandler(func(res *processing.ProcessResult) {
			r.metrics.ObserveSinkPublish(sink.Name(), res.Error)
			if res.Error != nil {
				r.logger.Errorf("Failed to publish status to sink '%s': %v", sink.Name(), res.Error)
				return
			}
			r.logger.Debugf("Published status to sink '%s' in %v", sink.Name(), res.Duration)
		})
		r.pools = append(r.pools, pool)
	}
	return r
}

// Sinks returns the names of the configured sinks.
func (r *Relay) Sinks() []string {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Run publishes until ctx is done. With no sinks it returns immediately.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.sinks) == 0 {
		return nil
	}
	updates, cancel := r.store.Subscribe()
	defer cancel()

	for _, p := range r.pools {
		p.Start(ctx)
	}
	defer func() {
		for _, p := range r.pools {
			p.Stop()
		}
	}()

	r.logger.Infof("Relaying telemetry to %v", r.Sinks())
	// Nothing has been polled yet while the store holds the initial status.
	if first := <-updates; first != robot.InitialStatus() {
		r.publish(first)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			r.publish(status)
		}
	}
}

func (r *Relay) publish(status robot.Status) {
	for i, p := range r.pools {
		if err := p.Submit(status); err != nil {
			name := r.sinks[i].Name()
			r.metrics.ObserveSinkPublish(name, err)
			r.logger.Warnf("Dropped status for sink '%s': %v", name, err)
		}
	}
}

// Close closes every sink and returns their combined error. Call it after
// Run has returned.
func (r *Relay) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
