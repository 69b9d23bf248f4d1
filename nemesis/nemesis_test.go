package nemesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicheck/replicheck/splitmix"
)

var testNodes = []string{"n1", "n2", "n3", "n4", "n5"}

func TestStrategySplits(t *testing.T) {
	rng := splitmix.NewRand(1)
	cases := []struct {
		strategy Strategy
		groups   int
	}{
		{SplitOne, 2},
		{SplitMinority, 2},
		{SplitMajority, 2},
		{SplitMinorityThird, 3},
		{SplitAll, len(testNodes)},
	}
	for _, c := range cases {
		for i := 0; i < 50; i++ {
			groups, err := c.strategy.Split(rng, testNodes)
			require.NoError(t, err, c.strategy)
			assert.Len(t, groups, c.groups, c.strategy)

			seen := make(map[string]int)
			for _, g := range groups {
				assert.NotEmpty(t, g, c.strategy)
				for _, n := range g {
					seen[n]++
				}
			}
			require.Len(t, seen, len(testNodes), "%s: every node in exactly one group", c.strategy)
			for n, count := range seen {
				assert.Equal(t, 1, count, "%s: node %s", c.strategy, n)
			}
		}
	}
}

func TestStrategySizes(t *testing.T) {
	rng := splitmix.NewRand(2)
	for i := 0; i < 50; i++ {
		groups, err := SplitOne.Split(rng, testNodes)
		require.NoError(t, err)
		assert.Len(t, groups[0], 1)

		groups, err = SplitMinority.Split(rng, testNodes)
		require.NoError(t, err)
		assert.Less(t, len(groups[0]), len(testNodes)-len(groups[0]))

		groups, err = SplitMajority.Split(rng, testNodes)
		require.NoError(t, err)
		assert.Greater(t, len(groups[0]), len(testNodes)-len(groups[0]))
	}
}

func TestParseStrategyRoundTrip(t *testing.T) {
	for _, s := range []Strategy{SplitOne, SplitMinority, SplitMajority, SplitMinorityThird, SplitAll} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("bogus")
	assert.Error(t, err)
}

func TestPeriodicSchedule(t *testing.T) {
	f := &fakeFault{name: "f"}
	pkg := Periodic(f, 5*time.Second, 10*time.Second, 5*time.Second, 40*time.Second)
	require.NoError(t, pkg.Validate())

	// Cycles at 5-15, 20-30; 35+10 exceeds 40 so no third cycle.
	require.Len(t, pkg.Events, 4)
	assert.Equal(t, ActionStart, pkg.Events[0].Action)
	assert.Equal(t, 5*time.Second, pkg.Events[0].Offset)
	assert.Equal(t, ActionStop, pkg.Events[1].Action)
	assert.Equal(t, 15*time.Second, pkg.Events[1].Offset)
	assert.Equal(t, 20*time.Second, pkg.Events[2].Offset)
	assert.Equal(t, 30*time.Second, pkg.Events[3].Offset)
}

func TestComposeMergesOnSharedClock(t *testing.T) {
	a := &fakeFault{name: "a"}
	b := &fakeFault{name: "b"}
	merged := Compose(
		Periodic(a, 1*time.Second, 2*time.Second, 1*time.Second, 4*time.Second),
		Periodic(b, 2*time.Second, 2*time.Second, 1*time.Second, 5*time.Second),
	)
	require.NoError(t, merged.Validate())
	assert.Equal(t, "a+b", merged.Name())

	last := time.Duration(-1)
	for _, ev := range merged.Events {
		require.GreaterOrEqual(t, ev.Offset, last)
		last = ev.Offset
		require.Less(t, ev.Fault, len(merged.Faults))
	}
	assert.Equal(t, "a", merged.Faults[merged.Events[0].Fault].Name())
}

func TestComposeStartsBeforeStopsAtEqualOffset(t *testing.T) {
	a := &fakeFault{name: "a"}
	b := &fakeFault{name: "b"}
	merged := Compose(
		// a stops at 2s exactly when b starts.
		Periodic(a, 0, 2*time.Second, time.Second, 2*time.Second),
		Periodic(b, 2*time.Second, time.Second, time.Second, 3*time.Second),
	)
	require.NoError(t, merged.Validate())
	require.Len(t, merged.Events, 4)

	assert.Equal(t, 2*time.Second, merged.Events[1].Offset)
	assert.Equal(t, ActionStart, merged.Events[1].Action, "b's start precedes a's stop")
	assert.Equal(t, "b", merged.Faults[merged.Events[1].Fault].Name())
	assert.Equal(t, 2*time.Second, merged.Events[2].Offset)
	assert.Equal(t, ActionStop, merged.Events[2].Action)
	assert.Equal(t, "a", merged.Faults[merged.Events[2].Fault].Name())
}

func TestValidateUnmatchedStart(t *testing.T) {
	pkg := &Package{
		Faults: []Fault{&fakeFault{name: "f"}},
		Events: []Event{{Offset: 0, Action: ActionStart, Fault: 0}},
	}
	assert.Error(t, pkg.Validate())
}

// fakeFault records the order of its transitions.
type fakeFault struct {
	name string
	mu   sync.Mutex
	log  *[]string

	startErrs int
}

func (f *fakeFault) Name() string { return f.name }

func (f *fakeFault) Start(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErrs > 0 {
		f.startErrs--
		return nil, context.DeadlineExceeded
	}
	if f.log != nil {
		*f.log = append(*f.log, "start "+f.name)
	}
	return []string{"n1"}, nil
}

func (f *fakeFault) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.log != nil {
		*f.log = append(*f.log, "stop "+f.name)
	}
	return nil
}

func TestControllerUnwindReverseOrder(t *testing.T) {
	var log []string
	a := &fakeFault{name: "a", log: &log}
	b := &fakeFault{name: "b", log: &log}
	pkg := &Package{
		Faults: []Fault{a, b},
		Events: []Event{
			{Offset: 0, Action: ActionStart, Fault: 0},
			{Offset: time.Millisecond, Action: ActionStart, Fault: 1},
		},
	}
	ctrl := NewController(pkg, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl.Run(ctx)
	ctrl.Unwind(ctx)
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestControllerRetriesStart(t *testing.T) {
	var log []string
	f := &fakeFault{name: "f", log: &log, startErrs: 2}
	pkg := &Package{
		Faults: []Fault{f},
		Events: []Event{
			{Offset: 0, Action: ActionStart, Fault: 0},
			{Offset: time.Millisecond, Action: ActionStop, Fault: 0},
		},
	}
	ctrl := NewController(pkg, 3)
	ctrl.backoff = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl.Run(ctx)
	assert.Equal(t, []string{"start f", "stop f"}, log)
}

func TestControllerExhaustedRetriesNeverAborts(t *testing.T) {
	var log []string
	f := &fakeFault{name: "f", log: &log, startErrs: 100}
	pkg := &Package{
		Faults: []Fault{f},
		Events: []Event{
			{Offset: 0, Action: ActionStart, Fault: 0},
			{Offset: time.Millisecond, Action: ActionStop, Fault: 0},
		},
	}
	ctrl := NewController(pkg, 1)
	ctrl.backoff = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl.Run(ctx) // must return, not hang or panic
	ctrl.Unwind(ctx)
	assert.NotContains(t, log, "start f")
}

func TestTargeters(t *testing.T) {
	rng := splitmix.NewRand(3)
	for i := 0; i < 50; i++ {
		one := OneNode(rng, testNodes)
		require.Len(t, one, 1)

		minority := RandomMinority(rng, testNodes)
		require.NotEmpty(t, minority)
		assert.Less(t, len(minority), len(testNodes)-len(minority)+1)

		all := AllNodes(rng, testNodes)
		assert.Len(t, all, len(testNodes))
	}
}
