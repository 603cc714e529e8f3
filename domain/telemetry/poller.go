package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/open-teleop/dashboard/domain/robot"
	customlog "github.com/open-teleop/dashboard/pkg/log"
	"github.com/open-teleop/dashboard/pkg/metrics"
)

// Poller lifecycle states.
const (
	StateIdle    = "idle"
	StatePolling = "polling"
	StateStopped = "stopped"
)

const (
	eventPoll = "poll"
	eventDone = "done"
	eventStop = "stop"
)

var (
	ErrAlreadyStarted = errors.New("poller already started")
	ErrStopped        = errors.New("poller stopped")
)

// StatusSource is the part of the device gateway the poller needs.
type StatusSource interface {
	GetStatus(ctx context.Context) (robot.StatusReport, error)
}

// PollerConfig holds the schedule. Zero values take the defaults.
type PollerConfig struct {
	// Interval between poll boundaries. Defaults to 2s.
	Interval time.Duration
	// Timeout bounds a single poll. Defaults to Interval.
	Timeout time.Duration
	// Clock drives the ticker. Defaults to the real clock.
	Clock   clock.WithTicker
	Metrics *metrics.Metrics
}

// DefaultPollInterval is the rover dashboard's refresh period.
const DefaultPollInterval = 2 * time.Second

// Stats summarizes poller activity.
type Stats struct {
	State       string    `json:"state"`
	Interval    string    `json:"interval"`
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastPoll    time.Time `json:"last_poll"`
	LastSuccess time.Time `json:"last_success"`
}

// Poller reads telemetry immediately on Start and then on every interval
// boundary until stopped. Polls never overlap: ticks that fire while a poll
// is in flight are coalesced into one.
type Poller struct {
	source StatusSource
	store  *Store
	cfg    PollerConfig
	logger customlog.Logger

	machine *fsm.FSM

	mu      sync.Mutex
	stats   Stats
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
}

// NewPoller creates an idle poller.
func NewPoller(source StatusSource, store *Store, cfg PollerConfig, logger customlog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	p := &Poller{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger.WithField("component", "poller"),
		done:   make(chan struct{}),
	}
	p.stats.Interval = cfg.Interval.String()
	p.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventPoll, Src: []string{StateIdle}, Dst: StatePolling},
			{Name: eventDone, Src: []string{StatePolling}, Dst: StateIdle},
			{Name: eventStop, Src: []string{StateIdle, StatePolling}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_" + StateStopped: func(_ context.Context, e *fsm.Event) {
				p.logger.Infof("Telemetry poller stopped (was %s)", e.Src)
			},
		},
	)
	return p
}

// Start launches the poll loop. It may be called once.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	// The ticker exists before the first poll so boundaries are measured
	// from Start, not from when the first poll returned.
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)

	p.logger.Infof("Telemetry poller started: interval=%v timeout=%v", p.cfg.Interval, p.cfg.Timeout)
	go p.run(loopCtx, ticker)
	return nil
}

func (p *Poller) run(ctx context.Context, ticker clock.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if err := p.machine.Event(context.Background(), eventPoll); err != nil {
		return
	}
	defer func() { _ = p.machine.Event(context.Background(), eventDone) }()

	seq := p.store.BeginPoll()
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	report, err := p.source.GetStatus(pollCtx)
	cancel()

	// A poll cut short by Stop is discarded rather than merged as a failure.
	if ctx.Err() != nil {
		return
	}

	status := p.store.Merge(report, seq)
	p.cfg.Metrics.ObservePoll(err)
	p.cfg.Metrics.SetStatus(status)

	now := p.cfg.Clock.Now()
	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = now
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
	} else {
		p.stats.LastSuccess = now
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Debugf("Poll %d merged fallback status: %v", seq, err)
	}
}

// Stop ends the loop and waits for it. Only the first call has any effect.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		cancel, started := p.cancel, p.started
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-p.done
		}
		_ = p.machine.Event(context.Background(), eventStop)
	})
}

// State returns idle, polling or stopped.
func (p *Poller) State() string {
	return p.machine.Current()
}

// Stats returns a copy of the counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.State = p.machine.Current()
	return s
}
