package subscriber

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hubsub/models"

	log "github.com/sirupsen/logrus"
)

// PreconditionChecker is consulted right before a poll runs
type PreconditionChecker interface {
	IsReady(ctx context.Context) bool
}

// Poller runs one poll to completion
type Poller interface {
	Poll(ctx context.Context) (models.PollResult, error)
}

// Coordinator turns ticks into polls, never running two at once. Ticks that
// arrive while a poll runs are dropped.
type Coordinator struct {
	poller  Poller
	checker PreconditionChecker

	running atomic.Bool

	mu   sync.RWMutex
	last *models.PollResult
}

// NewCoordinator creates a coordinator. checker may be nil.
func NewCoordinator(poller Poller, checker PreconditionChecker) *Coordinator {
	return &Coordinator{
		poller:  poller,
		checker: checker,
	}
}

// Tick runs a poll on the calling goroutine unless one is already running.
// It reports whether the tick was accepted; the error is the poll's error.
func (c *Coordinator) Tick(ctx context.Context) (bool, error) {
	if !c.running.CompareAndSwap(false, true) {
		ticksDropped.Inc()
		log.Debug("Poll already running, dropping tick")
		return false, nil
	}
	defer c.running.Store(false)

	pollRunning.Set(1)
	defer pollRunning.Set(0)

	if c.checker != nil && !c.checker.IsReady(ctx) {
		log.Warn("Skipping poll as the precondition for polling is not met")
		pollsTotal.WithLabelValues(string(models.OutcomeNotReady)).Inc()
		c.record(models.PollResult{
			Outcome:   models.OutcomeNotReady,
			StartedAt: time.Now(),
		})
		return true, nil
	}

	result, err := c.poller.Poll(ctx)
	c.record(result)
	return true, err
}

// Running reports whether a poll is in progress
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// LastResult returns the result of the most recent accepted tick
func (c *Coordinator) LastResult() (models.PollResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.last == nil {
		return models.PollResult{}, false
	}
	return *c.last, true
}

func (c *Coordinator) record(result models.PollResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = &result
}
