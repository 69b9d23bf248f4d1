package cli

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/agent"
	"github.com/replicheck/replicheck/client"
)

// NewDatabase builds the backend the plan names. The mem backend is fully
// in-process; postgres and http reach real nodes and drive faults through
// the node agents.
func NewDatabase(cfg *Config, opt *replicheck.Options) (replicheck.Database, error) {
	switch cfg.DB.Driver {
	case "mem":
		return client.NewMemDatabase(cfg.Nodes), nil
	case "postgres":
		sqlOpt := client.SQLOptions{
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			DBName:   cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		}
		if table, ok := opt.GetExtra("table"); ok {
			sqlOpt.Table = table
		}
		return &sqlDatabase{
			sqlOpt: sqlOpt,
			agents: agentHooks(opt),
		}, nil
	case "http":
		return &httpDatabase{
			port:    cfg.DB.Port,
			timeout: opt.InvokeTimeout,
			agents:  agentHooks(opt),
		}, nil
	}
	return nil, errors.Errorf("unknown db driver %q", cfg.DB.Driver)
}

// hooks bundles the agent-backed fault surfaces shared by the remote
// backends.
type hooks struct {
	conns *agent.Conns
	lc    *agent.Lifecycle
	net   *agent.Net
	nodes []string
}

func agentHooks(opt *replicheck.Options) hooks {
	conns := agent.NewConns(opt)
	return hooks{
		conns: conns,
		lc:    agent.NewLifecycle(conns),
		net:   agent.NewNet(conns, opt.Nodes),
		nodes: opt.Nodes,
	}
}

type sqlDatabase struct {
	sqlOpt client.SQLOptions
	agents hooks
}

var _ replicheck.Database = (*sqlDatabase)(nil)

func (d *sqlDatabase) Name() string { return "postgres" }

func (d *sqlDatabase) SetUp(opt *replicheck.Options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.NewSQLClient(d.sqlOpt)
	if err := c.Open(ctx, opt.Nodes[0]); err != nil {
		return errors.Wrap(err, "schema setup")
	}
	defer func() { _ = c.Close() }()
	return c.EnsureSchema(ctx)
}

func (d *sqlDatabase) NewClient(process int) (replicheck.Client, error) {
	return client.NewSQLClient(d.sqlOpt), nil
}

func (d *sqlDatabase) Lifecycle() replicheck.Lifecycle { return d.agents.lc }
func (d *sqlDatabase) Net() replicheck.NetControl      { return d.agents.net }

func (d *sqlDatabase) TearDown() error {
	d.agents.conns.Close()
	return nil
}

type httpDatabase struct {
	port    int
	timeout time.Duration
	agents  hooks
}

var _ replicheck.Database = (*httpDatabase)(nil)

func (d *httpDatabase) Name() string { return "http" }

func (d *httpDatabase) SetUp(opt *replicheck.Options) error { return nil }

func (d *httpDatabase) NewClient(process int) (replicheck.Client, error) {
	return client.NewHTTPClient(d.port, d.timeout), nil
}

func (d *httpDatabase) Lifecycle() replicheck.Lifecycle { return d.agents.lc }
func (d *httpDatabase) Net() replicheck.NetControl      { return d.agents.net }

func (d *httpDatabase) TearDown() error {
	d.agents.conns.Close()
	return nil
}
