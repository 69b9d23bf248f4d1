package cli

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/checker"
	"github.com/replicheck/replicheck/gen"
	"github.com/replicheck/replicheck/history"
	"github.com/replicheck/replicheck/log"
	"github.com/replicheck/replicheck/metrics"
	"github.com/replicheck/replicheck/nemesis"
	"github.com/replicheck/replicheck/workload"
)

// Runner executes one scenario: a workload against a backend under one
// nemesis schedule, followed by the consistency checks.
type Runner struct {
	name     string
	db       replicheck.Database
	wl       workload.Workload
	pkg      *nemesis.Package
	opt      *replicheck.Options
	gen      replicheck.Generator
	sessions []session
	excluded []string
	rec      *history.Recorder
}

// session pins one client to the node it opened against, so reopening
// after an ambiguous result targets the same node.
type session struct {
	client  replicheck.Client
	process int
	node    string
}

func NewRunner(db replicheck.Database, wl workload.Workload, pkg *nemesis.Package, opt *replicheck.Options) *Runner {
	return &Runner{
		name: db.Name() + "~" + wl.Name + "~" + pkg.Name(),
		db:   db,
		wl:   wl,
		pkg:  pkg,
		opt:  opt,
	}
}

func (r *Runner) Name() string { return r.name }

// SetUp provisions the backend, opens one client per process, and primes
// the generator. A node that stays unreachable through the retry budget
// costs its processes: the run continues at reduced concurrency rather
// than aborting.
func (r *Runner) SetUp(ctx context.Context) error {
	log.Info("[%s] database setup", r.name)
	if err := r.db.SetUp(r.opt); err != nil {
		return err
	}

	log.Info("[%s] opening %d clients", r.name, r.opt.Concurrency)
	sessions := make([]session, 0, r.opt.Concurrency)
	failed := make(map[string]bool)
	opened := make(map[string]bool)
	for i := 0; i < r.opt.Concurrency; i++ {
		c, err := r.db.NewClient(i)
		if err != nil {
			r.closeSessions(sessions)
			return err
		}
		node := r.nodeFor(i)
		if err := r.openWithRetry(ctx, c, node); err != nil {
			log.Warning("[%s] client %d stayed unreachable, running without it: %v", r.name, i, err)
			failed[node] = true
			_ = c.Close()
			continue
		}
		opened[node] = true
		sessions = append(sessions, session{client: c, process: i, node: node})
	}
	if len(sessions) == 0 {
		return errNoClients
	}
	// Nodes no session ever reached never joined the run; they are left
	// out of the convergence comparison but reported.
	r.excluded = nil
	for _, node := range r.opt.Nodes {
		if failed[node] && !opened[node] {
			r.excluded = append(r.excluded, node)
		}
	}

	g := gen.Synchronize(gen.Stagger(r.wl.NewGenerator(r.opt.Seed), r.opt.Rate))
	if err := g.SetUp(r.opt); err != nil {
		r.closeSessions(sessions)
		return err
	}
	if err := r.pkg.Validate(); err != nil {
		r.closeSessions(sessions)
		return err
	}
	r.gen = g
	r.sessions = sessions
	r.rec = history.NewRecorder()
	return nil
}

var errNoClients = errors.New("no client could open a session")

// Run drives the main phase: workers and the nemesis controller run
// concurrently until the time limit, then the schedule unwinds and the
// cluster settles.
func (r *Runner) Run(ctx context.Context) []replicheck.Operation {
	runCtx, cancel := context.WithTimeout(ctx, r.opt.TimeLimit)
	defer cancel()

	ctrl := nemesis.NewController(r.pkg, 3)
	nemesisDone := make(chan struct{})
	go func() {
		defer close(nemesisDone)
		ctrl.Run(runCtx)
	}()

	log.Info("[%s] starting %d workers", r.name, len(r.sessions))
	var wg sync.WaitGroup
	for _, s := range r.sessions {
		wg.Add(1)
		go r.worker(runCtx, &wg, s)
	}
	wg.Wait()
	cancel()
	<-nemesisDone
	log.Info("[%s] workers finished, unwinding nemesis", r.name)

	unwindCtx, unwindCancel := context.WithTimeout(ctx, time.Minute)
	ctrl.Unwind(unwindCtx)
	unwindCancel()

	log.Info("[%s] settling for %v", r.name, r.opt.SettleDelay)
	sleep(ctx, r.opt.SettleDelay)
	return r.rec.Snapshot()
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup, s session) {
	defer wg.Done()
	process, c := s.process, s.client
	for ctx.Err() == nil {
		txn, err := r.gen.Next(process)
		if err != nil {
			log.Error("[%s] generator failed for process %d: %v", r.name, process, err)
			return
		}
		if txn == nil {
			if !sleep(ctx, time.Millisecond) {
				return
			}
			continue
		}

		op := replicheck.Operation{Process: process, Txn: *txn, Call: r.rec.Now(), Return: -1}
		invokeCtx, cancel := context.WithTimeout(ctx, r.opt.InvokeTimeout)
		start := time.Now()
		res := c.Invoke(invokeCtx, txn)
		cancel()
		metrics.InvokeDuration.Observe(time.Since(start).Seconds())

		// Ambiguous returns keep Return unresolved; the snapshot places
		// them after every observed timestamp.
		ret := int64(-1)
		if res.Outcome != replicheck.OutcomeInfo {
			ret = r.rec.Now()
		}
		r.rec.Append(replicheck.CompleteOperation(op, res, ret))

		if res.Outcome == replicheck.OutcomeInfo {
			// The session may be wedged mid-request; start a fresh one.
			_ = c.Teardown()
			if err := r.openWithRetry(ctx, c, s.node); err != nil {
				log.Warning("[%s] process %d could not reopen: %v", r.name, process, err)
				return
			}
		}
	}
}

// FinalReads collects each node's settled view of the key space through a
// fresh client, retrying within the configured budget.
func (r *Runner) FinalReads(ctx context.Context) []checker.NodeSnapshot {
	snapshots := make([]checker.NodeSnapshot, 0, len(r.opt.Nodes))
	txn := workload.FinalRead(r.opt.Keys)
	for i, node := range r.opt.Nodes {
		if r.isExcluded(node) {
			continue
		}
		snapshots = append(snapshots, r.finalRead(ctx, i, node, txn))
	}
	return snapshots
}

func (r *Runner) isExcluded(node string) bool {
	for _, n := range r.excluded {
		if n == node {
			return true
		}
	}
	return false
}

func (r *Runner) finalRead(ctx context.Context, i int, node string, txn *replicheck.Txn) checker.NodeSnapshot {
	snap := checker.NodeSnapshot{Node: node}
	var lastErr error
	for attempt := 0; attempt <= r.opt.FinalReadRetries; attempt++ {
		if attempt > 0 && !sleep(ctx, time.Second) {
			break
		}
		c, err := r.db.NewClient(r.opt.Concurrency + i)
		if err != nil {
			lastErr = err
			continue
		}
		if err := c.Open(ctx, node); err != nil {
			lastErr = err
			_ = c.Close()
			continue
		}
		invokeCtx, cancel := context.WithTimeout(ctx, r.opt.InvokeTimeout)
		res := c.Invoke(invokeCtx, txn)
		cancel()
		_ = c.Close()
		if res.Outcome != replicheck.OutcomeOK {
			lastErr = res.Err
			continue
		}
		snap.State = make(map[int][]int)
		for _, m := range res.Txn.Mops {
			if m.F == replicheck.MopRead && m.Reads != nil {
				snap.State[m.K] = m.Reads
			}
		}
		return snap
	}
	if lastErr != nil {
		snap.Err = lastErr.Error()
	} else {
		snap.Err = "final read exhausted retries"
	}
	return snap
}

// Check runs both checkers over the frozen history and final snapshots.
func (r *Runner) Check(ops []replicheck.Operation, snapshots []checker.NodeSnapshot, realtime bool) (*checker.Report, error) {
	report := checker.NewReport(r.wl.Name, r.pkg.Name())
	report.Operations = len(ops)

	causal, err := checker.CheckCausal(ops, checker.CausalOpts{Semantics: r.wl.Semantics, Realtime: realtime})
	if err != nil {
		return nil, err
	}
	report.Causal = causal
	report.Convergence = checker.CheckConvergence(snapshots, r.wl.Semantics, r.excluded)
	return report, nil
}

func (r *Runner) TearDown() error {
	var retErr error
	if r.gen != nil {
		if err := r.gen.TearDown(); err != nil {
			log.Error("[%s] generator teardown: %v", r.name, err)
			retErr = err
		}
	}
	r.closeSessions(r.sessions)
	r.sessions = nil
	if err := r.db.TearDown(); err != nil {
		log.Error("[%s] database teardown: %v", r.name, err)
		if retErr == nil {
			retErr = err
		}
	}
	return retErr
}

func (r *Runner) closeSessions(sessions []session) {
	for _, s := range sessions {
		if s.client != nil {
			_ = s.client.Close()
		}
	}
}

func (r *Runner) nodeFor(process int) string {
	return r.opt.Nodes[process%len(r.opt.Nodes)]
}

func (r *Runner) openWithRetry(ctx context.Context, c replicheck.Client, node string) error {
	var err error
	for attempt := 0; attempt <= r.opt.OpenRetries; attempt++ {
		if attempt > 0 && !sleep(ctx, time.Second) {
			return ctx.Err()
		}
		if err = c.Open(ctx, node); err == nil {
			return nil
		}
	}
	return err
}

// sleep waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
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
