// Package decay runs the periodic background sweep that ages agent
// memories. The actual decay math lives with the memory engine; this
// package only owns the schedule, per-agent error isolation and sweep
// statistics.
package decay

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultInterval is the sweep cadence when none is configured.
	DefaultInterval = 4 * time.Hour

	// MinInterval and MaxInterval bound the configurable cadence.
	MinInterval = 1 * time.Hour
	MaxInterval = 24 * time.Hour
)

// Report is the outcome of decaying a single agent's memories.
type Report struct {
	// AgentID identifies the swept agent.
	AgentID string

	// Decayed counts memories whose strength was reduced.
	Decayed int

	// Removed counts memories evicted after reaching zero strength.
	Removed int
}

// Sweeper is the engine-side contract the scheduler drives. It is satisfied
// by the memory engine.
type Sweeper interface {
	// ListAgentIDs returns every agent known to the store.
	ListAgentIDs(ctx context.Context) ([]string, error)

	// DecayAgent ages one agent's memories and reports the outcome.
	DecayAgent(ctx context.Context, agentID string) (*Report, error)
}

// Stats is a snapshot of the scheduler's state and its most recent sweep.
type Stats struct {
	Running  bool
	Interval time.Duration

	// LastRun is zero until the first sweep completes.
	LastRun      time.Time
	LastDuration time.Duration

	AgentsSwept     int
	MemoriesDecayed int
	MemoriesRemoved int

	// Errors maps agent id to the failure from the last sweep. An agent's
	// failure never halts the sweep for others.
	Errors map[string]string
}

// Scheduler periodically sweeps all agents through a Sweeper.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	running bool
	stats   Stats
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the sweep cadence, clamped to [MinInterval, MaxInterval].
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = clampInterval(interval)
	}
}

// NewScheduler creates a stopped scheduler with the default cadence.
func NewScheduler(sweeper Sweeper, opts ...Option) *Scheduler {
	s := &Scheduler{
		sweeper:  sweeper,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. When runImmediately is true a sweep
// runs before the first tick. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(runImmediately bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	interval := s.interval
	s.mu.Unlock()

	go s.loop(stop, interval, runImmediately)
}

// Stop halts the background loop. Stopping a stopped scheduler is a no-op.
// An in-flight sweep finishes its current agent iteration.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

// SetInterval reconfigures the cadence, clamped to [MinInterval,
// MaxInterval]. A running scheduler is restarted so the new interval takes
// effect; runImmediately additionally triggers a sweep on the restart.
func (s *Scheduler) SetInterval(interval time.Duration, runImmediately bool) {
	s.mu.Lock()
	wasRunning := s.running
	s.mu.Unlock()

	if wasRunning {
		s.Stop()
	}

	s.mu.Lock()
	s.interval = clampInterval(interval)
	s.mu.Unlock()

	if wasRunning {
		s.Start(runImmediately)
	}
}

// ForceDecay runs one sweep synchronously, independent of the timer.
func (s *Scheduler) ForceDecay(ctx context.Context) Stats {
	s.sweep(ctx)
	return s.Stats()
}

// Stats returns a snapshot of the scheduler state and last sweep counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.stats
	snapshot.Running = s.running
	snapshot.Interval = s.interval
	snapshot.Errors = make(map[string]string, len(s.stats.Errors))
	for agentID, msg := range s.stats.Errors {
		snapshot.Errors[agentID] = msg
	}
	return snapshot
}

func (s *Scheduler) loop(stop chan struct{}, interval time.Duration, runImmediately bool) {
	if runImmediately {
		s.sweep(context.Background())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

// sweep decays every known agent, recording per-agent failures without
// aborting the batch.
func (s *Scheduler) sweep(ctx context.Context) {
	started := time.Now()
	result := Stats{Errors: make(map[string]string)}

	agentIDs, err := s.sweeper.ListAgentIDs(ctx)
	if err != nil {
		log.Printf("memory decay: listing agents failed: %v", err)
		result.Errors[""] = err.Error()
	}

	for _, agentID := range agentIDs {
		report, err := s.sweeper.DecayAgent(ctx, agentID)
		if err != nil {
			log.Printf("memory decay: agent %s failed: %v", agentID, err)
			result.Errors[agentID] = err.Error()
			continue
		}
		result.AgentsSwept++
		result.MemoriesDecayed += report.Decayed
		result.MemoriesRemoved += report.Removed
	}

	result.LastRun = started
	result.LastDuration = time.Since(started)

	s.mu.Lock()
	s.stats = result
	s.mu.Unlock()
}

func clampInterval(interval time.Duration) time.Duration {
	if interval < MinInterval {
		return MinInterval
	}
	if interval > MaxInterval {
		return MaxInterval
	}
	return interval
}
