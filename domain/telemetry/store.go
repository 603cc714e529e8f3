package telemetry

import (
	"fmt"
	"sync"

	"github.com/open-teleop/dashboard/domain/robot"
)

// ModePolicy decides whether telemetry may overwrite a mode set locally.
type ModePolicy string

const (
	// PolicyVersioned drops the telemetry mode from polls that began before
	// the latest local toggle. The first poll begun after it is authoritative.
	PolicyVersioned ModePolicy = "versioned"
	// PolicyLocal drops the telemetry mode for good once control has set it.
	PolicyLocal ModePolicy = "local"
	// PolicyTelemetry lets whichever write lands last win.
	PolicyTelemetry ModePolicy = "telemetry"
)

// ParseModePolicy maps a config value onto a policy.
func ParseModePolicy(s string) (ModePolicy, error) {
	switch p := ModePolicy(s); p {
	case PolicyVersioned, PolicyLocal, PolicyTelemetry:
		return p, nil
	case "":
		return PolicyVersioned, nil
	}
	return "", fmt.Errorf("unknown mode policy %q", s)
}

// Store is the single shared status cell. Writers are the poller (Merge)
// and the dispatcher (SetLocalMode); everything else reads snapshots.
type Store struct {
	mu     sync.RWMutex
	status robot.Status
	policy ModePolicy

	// pollSeq numbers polls in the order they began.
	pollSeq uint64
	// localSeq is the pollSeq current when mode was last set locally.
	// localSet is true while that local mode is still pending.
	localSeq  uint64
	localSet  bool
	version   uint64
	listeners map[int]chan robot.Status
	nextID    int
}

// NewStore creates a store holding robot.InitialStatus.
func NewStore(policy ModePolicy) *Store {
	if policy == "" {
		policy = PolicyVersioned
	}
	return &Store{
		status:    robot.InitialStatus(),
		policy:    policy,
		listeners: make(map[int]chan robot.Status),
	}
}

// Policy returns the configured mode precedence.
func (s *Store) Policy() ModePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy changes the mode precedence at runtime.
func (s *Store) SetPolicy(p ModePolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (s *Store) Snapshot() robot.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Version increases on every change to the status.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Mode returns the current mode.
func (s *Store) Mode() robot.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Mode
}

// BeginPoll must be called before a status request is issued. The returned
// sequence is handed back to Merge with the result.
func (s *Store) BeginPoll() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollSeq++
	return s.pollSeq
}

// Merge applies a telemetry report field by field, subject to the mode
// policy, and returns the resulting status.
func (s *Store) Merge(report robot.StatusReport, pollSeq uint64) robot.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.HasMode() {
		switch s.policy {
		case PolicyLocal:
			if s.localSet {
				report = report.WithoutMode()
			}
		case PolicyVersioned:
			if s.localSet {
				if pollSeq <= s.localSeq {
					report = report.WithoutMode()
				} else {
					s.localSet = false
				}
			}
		}
	} else if s.policy == PolicyVersioned && s.localSet && pollSeq > s.localSeq {
		// A fresh poll without a mode field still settles the pending toggle.
		s.localSet = false
	}

	next := report.ApplyTo(s.status)
	s.commitLocked(next)
	return next
}

// SetLocalMode records a mode chosen by the operator.
func (s *Store) SetLocalMode(mode robot.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.localSeq = s.pollSeq
	s.localSet = true
	next := s.status
	next.Mode = mode
	s.commitLocked(next)
}

func (s *Store) commitLocked(next robot.Status) {
	if next == s.status {
		return
	}
	s.status = next
	s.version++
	for _, ch := range s.listeners {
		// Keep only the latest value for slow readers.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// Subscribe returns a channel that always holds the latest status after a
// change, starting with the current one. cancel closes the channel.
func (s *Store) Subscribe() (<-chan robot.Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan robot.Status, 1)
	ch <- s.status
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
