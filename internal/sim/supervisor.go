package sim

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teamrichards/dispatchd/internal/model"
)

// Broadcaster is the subscriber-facing fan-out the loops feed. Every tick
// first checks SubscriberCount and skips its work while nobody is watching.
type Broadcaster interface {
	SubscriberCount() int
	BroadcastState()
	BroadcastDemand()
}

// Assigner runs one matching pass and returns the committed assignments.
type Assigner interface {
	Assign(ctx context.Context) []model.Assignment
}

// SupervisorConfig wires the three periodic tasks.
type SupervisorConfig struct {
	Generator *Generator
	Matcher   Assigner
	Hub       Broadcaster

	GeneratorInterval time.Duration
	MatcherInterval   time.Duration
	DemandInterval    time.Duration
}

// Supervisor owns the generator, matcher, and demand broadcast loops. Start
// launches one goroutine per loop; Stop cancels them cooperatively and waits
// for the current tick of each to finish.
type Supervisor struct {
	gen     *Generator
	matcher Assigner
	hub     Broadcaster

	generatorInterval time.Duration
	matcherInterval   time.Duration
	demandInterval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor; call Start to launch the loops.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		gen:               cfg.Generator,
		matcher:           cfg.Matcher,
		hub:               cfg.Hub,
		generatorInterval: cfg.GeneratorInterval,
		matcherInterval:   cfg.MatcherInterval,
		demandInterval:    cfg.DemandInterval,
		ctx:               ctx,
		cancel:            cancel,
		stopCh:            make(chan struct{}),
	}
}

// Start launches the three loop goroutines.
func (s *Supervisor) Start() {
	for _, loop := range []struct {
		period time.Duration
		tick   func()
	}{
		{s.generatorInterval, s.generatorTick},
		{s.matcherInterval, s.matcherTick},
		{s.demandInterval, s.demandTick},
	} {
		s.wg.Add(1)
		go func(period time.Duration, tick func()) {
			defer s.wg.Done()
			runEvery(s.stopCh, period, tick)
		}(loop.period, loop.tick)
	}
	log.Printf("[sim] supervisor started (generator %s, matcher %s, demand %s)",
		s.generatorInterval, s.matcherInterval, s.demandInterval)
}

// Stop signals all loops to stop, cancels in-flight route fetches, and waits
// for the loops to exit.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) generatorTick() {
	if s.hub.SubscriberCount() == 0 {
		return
	}
	if _, ok := s.gen.GenerateOrder(); ok {
		s.hub.BroadcastState()
	}
}

func (s *Supervisor) matcherTick() {
	if s.hub.SubscriberCount() == 0 {
		return
	}
	if assignments := s.matcher.Assign(s.ctx); len(assignments) > 0 {
		s.hub.BroadcastState()
	}
}

func (s *Supervisor) demandTick() {
	if s.hub.SubscriberCount() == 0 {
		return
	}
	s.hub.BroadcastDemand()
}
