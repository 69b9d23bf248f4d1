package nemesis

import (
	"context"
	"time"

	"github.com/replicheck/replicheck/log"
	"github.com/replicheck/replicheck/metrics"
)

// Controller drives a nemesis package. It runs in its own goroutine with a
// failure domain independent of the client workers: an event that exhausts
// its retry budget is logged and counted, never escalated.
type Controller struct {
	pkg     *Package
	retries int
	backoff time.Duration

	active []int // fault indices in activation order
}

func NewController(pkg *Package, retries int) *Controller {
	return &Controller{pkg: pkg, retries: retries, backoff: time.Second}
}

// Run executes the schedule relative to now. It returns when the schedule
// is exhausted or the context is cancelled; in either case Unwind must be
// called (with a fresh context) to heal whatever is still active.
func (c *Controller) Run(ctx context.Context) {
	start := time.Now()
	for _, ev := range c.pkg.Events {
		if !sleepUntil(ctx, start.Add(ev.Offset)) {
			return
		}
		c.execute(ctx, ev)
	}
}

func (c *Controller) execute(ctx context.Context, ev Event) {
	fault := c.pkg.Faults[ev.Fault]
	metrics.NemesisEventsTotal.WithLabelValues(fault.Name(), ev.Action.String()).Inc()
	switch ev.Action {
	case ActionStart:
		err := c.withRetry(ctx, func(ctx context.Context) error {
			targets, err := fault.Start(ctx)
			if err != nil {
				return err
			}
			log.Info("nemesis: started %s on %v", fault.Name(), targets)
			return nil
		})
		if err != nil {
			log.Warning("nemesis: start %s failed: %v", fault.Name(), err)
			fault.Stop(ctx) // drop partial state before giving up on this event
			return
		}
		c.active = append(c.active, ev.Fault)
	case ActionStop:
		err := c.withRetry(ctx, fault.Stop)
		if err != nil {
			log.Warning("nemesis: stop %s failed: %v", fault.Name(), err)
			return
		}
		log.Info("nemesis: stopped %s", fault.Name())
		c.deactivate(ev.Fault)
	}
}

func (c *Controller) deactivate(fault int) {
	for i := len(c.active) - 1; i >= 0; i-- {
		if c.active[i] == fault {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return
		}
	}
}

// Unwind stops every still-active fault in reverse activation order,
// regardless of where the schedule was when the time limit fired.
func (c *Controller) Unwind(ctx context.Context) {
	for i := len(c.active) - 1; i >= 0; i-- {
		fault := c.pkg.Faults[c.active[i]]
		if err := c.withRetry(ctx, fault.Stop); err != nil {
			log.Error("nemesis: unwind of %s failed: %v", fault.Name(), err)
			continue
		}
		log.Info("nemesis: unwound %s", fault.Name())
	}
	c.active = nil
}

func (c *Controller) withRetry(ctx context.Context, f func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err = f(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if !sleepUntil(ctx, time.Now().Add(c.backoff)) {
			break
		}
	}
	metrics.NemesisFailuresTotal.Inc()
	return err
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
