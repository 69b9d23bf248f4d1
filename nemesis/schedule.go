package nemesis

import (
	"fmt"
	"sort"
	"time"
)

// Action is what a schedule event does to its fault.
type Action int8

const (
	ActionStart Action = iota
	ActionStop
)

func (a Action) String() string {
	if a == ActionStart {
		return "start"
	}
	return "stop"
}

// Event is one entry of a nemesis schedule: at Offset from the start of the
// run, apply Action to the fault at index Fault. Targets are resolved by
// the fault at execution time, never ahead of it.
type Event struct {
	Offset time.Duration
	Action Action
	Fault  int
}

// Package bundles faults with their merged schedule. Invariant: every start
// of a stateful fault has a matching stop before the schedule ends; the
// controller's unwind covers whatever a cancelled run leaves active.
type Package struct {
	Faults []Fault
	Events []Event
}

func (p *Package) Name() string {
	if len(p.Faults) == 0 {
		return "nil"
	}
	name := p.Faults[0].Name()
	for _, f := range p.Faults[1:] {
		name += "+" + f.Name()
	}
	return name
}

// Periodic builds a package that starts the fault at first, keeps it active
// for active, rests for idle, and repeats while a full active interval and
// its stop still fit under total.
func Periodic(f Fault, first, active, idle, total time.Duration) *Package {
	pkg := &Package{Faults: []Fault{f}}
	for t := first; t+active <= total; t += active + idle {
		pkg.Events = append(pkg.Events,
			Event{Offset: t, Action: ActionStart},
			Event{Offset: t + active, Action: ActionStop})
	}
	return pkg
}

// Compose merges packages into one. Sub-schedules stay independent but run
// on the shared run clock; events are ordered by offset, starts before stops
// at equal offsets, remaining ties broken by schedule order.
func Compose(pkgs ...*Package) *Package {
	merged := &Package{}
	for _, pkg := range pkgs {
		base := len(merged.Faults)
		merged.Faults = append(merged.Faults, pkg.Faults...)
		for _, ev := range pkg.Events {
			ev.Fault += base
			merged.Events = append(merged.Events, ev)
		}
	}
	sort.SliceStable(merged.Events, func(i, j int) bool {
		if merged.Events[i].Offset != merged.Events[j].Offset {
			return merged.Events[i].Offset < merged.Events[j].Offset
		}
		return merged.Events[i].Action < merged.Events[j].Action
	})
	return merged
}

// Validate checks the schedule invariants: fault indices in range and every
// start of each fault matched by a later stop.
func (p *Package) Validate() error {
	open := make([]int, len(p.Faults))
	for _, ev := range p.Events {
		if ev.Fault < 0 || ev.Fault >= len(p.Faults) {
			return fmt.Errorf("nemesis: event references fault %d of %d", ev.Fault, len(p.Faults))
		}
		switch ev.Action {
		case ActionStart:
			open[ev.Fault]++
		case ActionStop:
			open[ev.Fault]--
		}
	}
	for i, n := range open {
		if n > 0 {
			return fmt.Errorf("nemesis: fault %s has %d unmatched start(s)", p.Faults[i].Name(), n)
		}
	}
	return nil
}
