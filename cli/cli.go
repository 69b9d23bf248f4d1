// Package cli wires the test plan into runnable commands: `run` executes
// scenarios and prints their reports, `agent` starts the per-node sidecar.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/agent"
	"github.com/replicheck/replicheck/log"
	"github.com/replicheck/replicheck/splitmix"
	"github.com/replicheck/replicheck/workload"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "replicheck",
		Short:         "Fault-injection consistency testing for replicated stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newAgentCommand())
	return root
}

// Main is the process entry point; it maps errors and failed verdicts to
// exit codes.
func Main() int {
	if err := NewRootCommand().Execute(); err != nil {
		log.Error("%v", err)
		if err == errChecksFailed {
			return 1
		}
		return 2
	}
	return 0
}

var errChecksFailed = fmt.Errorf("one or more scenarios failed their checks")

func newRunCommand() *cobra.Command {
	var (
		configPath string
		workloads  string
		nemeses    string
		exclude    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured scenarios and check their histories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if workloads != "" {
				cfg.Workloads = workloads
			}
			if nemeses != "" {
				cfg.Nemeses = nemeses
			}
			if exclude != "" {
				cfg.Exclude = exclude
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runScenarios(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML test plan")
	cmd.Flags().StringVarP(&workloads, "workloads", "R", "", "wildcard pattern(s) selecting workloads")
	cmd.Flags().StringVarP(&nemeses, "nemeses", "N", "", "wildcard pattern(s) selecting nemeses")
	cmd.Flags().StringVarP(&exclude, "exclude", "E", "", "wildcard pattern(s) excluding scenarios by full name")
	return cmd
}

func runScenarios(ctx context.Context, cfg *Config) error {
	opt := cfg.Options()
	if opt.Seed == 0 {
		opt.Seed = splitmix.NewSeed()
	}
	log.Info("run seed %d", opt.Seed)

	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics, mux); err != nil {
				log.Error("metrics endpoint: %v", err)
			}
		}()
	}

	wlFilter := MakeFilter(cfg.Workloads, "")
	nemFilter := MakeFilter(cfg.Nemeses, "")
	scenarioFilter := MakeFilter("*", cfg.Exclude)

	failed := false
	ran := 0
	for _, wl := range workload.All() {
		if !wlFilter.Match(wl.Name) {
			continue
		}
		n, err := scenariosForWorkload(ctx, cfg, opt, wl, nemFilter, scenarioFilter, &failed)
		if err != nil {
			return err
		}
		ran += n
	}
	if ran == 0 {
		return fmt.Errorf("no scenario matched the filters")
	}
	if failed {
		return errChecksFailed
	}
	return nil
}

func scenariosForWorkload(ctx context.Context, cfg *Config, opt *replicheck.Options,
	wl workload.Workload, nemFilter, scenarioFilter Filter, failed *bool) (int, error) {
	ran := 0
	// Each scenario gets a fresh backend and fresh fault state; only the
	// seed-derived randomness is shared across the run.
	probe, err := NewDatabase(cfg, opt)
	if err != nil {
		return 0, err
	}
	count := len(Nemeses(probe, opt, splitmix.NewRand(opt.Seed)))
	_ = probe.TearDown()

	for i := 0; i < count; i++ {
		db, err := NewDatabase(cfg, opt)
		if err != nil {
			return ran, err
		}
		rng := splitmix.NewRand(opt.Seed + int64(i))
		pkg := Nemeses(db, opt, rng)[i]
		runner := NewRunner(db, wl, pkg, opt)
		if !nemFilter.Match(pkg.Name()) || !scenarioFilter.Match(runner.Name()) {
			_ = db.TearDown()
			continue
		}
		ran++
		if err := runScenario(ctx, runner, cfg, failed); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

func runScenario(ctx context.Context, runner *Runner, cfg *Config, failed *bool) error {
	log.Info("[%s] starting scenario", runner.Name())
	if err := runner.SetUp(ctx); err != nil {
		return fmt.Errorf("[%s] setup: %w", runner.Name(), err)
	}
	ops := runner.Run(ctx)
	snapshots := runner.FinalReads(ctx)
	if err := runner.TearDown(); err != nil {
		log.Warning("[%s] teardown: %v", runner.Name(), err)
	}

	report, err := runner.Check(ops, snapshots, cfg.Realtime)
	if err != nil {
		return fmt.Errorf("[%s] check: %w", runner.Name(), err)
	}
	out, err := report.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	if !report.Passed() {
		*failed = true
		log.Warning("[%s] checks did not pass", runner.Name())
	} else {
		log.Info("[%s] checks passed (%d operations)", runner.Name(), report.Operations)
	}
	return nil
}

func newAgentCommand() *cobra.Command {
	var (
		port         int
		password     string
		process      string
		startCommand string
		device       string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the per-node process and network control sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port <= 0 || port >= 1<<16 {
				return fmt.Errorf("invalid port %d", port)
			}
			proc := &agent.ProcRpc{Process: process, StartCommand: startCommand}
			net := &agent.NetRpc{Device: device}
			return agent.Serve(port, password, proc, net)
		},
	}
	cmd.Flags().IntVar(&port, "port", 9090, "listen port")
	cmd.Flags().StringVar(&password, "password", "replicheck", "shared handshake secret")
	cmd.Flags().StringVar(&process, "process", "", "pkill pattern of the store process")
	cmd.Flags().StringVar(&startCommand, "start-command", "", "shell command that (re)starts the store")
	cmd.Flags().StringVar(&device, "device", "eth0", "network interface for delay rules")
	return cmd
}
