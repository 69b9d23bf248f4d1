package cli

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/replicheck/replicheck"
)

// Duration is a time.Duration that reads "30s"-style YAML values.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "config: bad duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the YAML test plan. Flags override the file; both collapse into
// replicheck.Options before the run starts.
type Config struct {
	Nodes       []string `yaml:"nodes"`
	Concurrency int      `yaml:"concurrency"`
	Rate        float64  `yaml:"rate"`
	TimeLimit   Duration `yaml:"time_limit"`
	SettleDelay Duration `yaml:"settle_delay"`

	Keys      int `yaml:"keys"`
	MinTxnOps int `yaml:"min_txn_ops"`
	MaxTxnOps int `yaml:"max_txn_ops"`

	InvokeTimeout    Duration `yaml:"invoke_timeout"`
	OpenRetries      int      `yaml:"open_retries"`
	FinalReadRetries int      `yaml:"final_read_retries"`
	RestartDelay     Duration `yaml:"restart_delay"`

	// Workloads and Nemeses are '|'-separated wildcard patterns selecting
	// which scenarios run; Exclude removes matches again.
	Workloads string `yaml:"workloads"`
	Nemeses   string `yaml:"nemeses"`
	Exclude   string `yaml:"exclude"`

	// Realtime adds wall-clock ordering edges to the causal check. Sound
	// only when all processes share one clock (single driver).
	Realtime bool `yaml:"realtime"`

	Seed int64 `yaml:"seed"`

	DB      DBConfig `yaml:"db"`
	Agent   Agent    `yaml:"agent"`
	Metrics string   `yaml:"metrics"` // listen address for /metrics; empty disables

	Extras map[string]string `yaml:"extras"`
}

// DBConfig selects and configures the backend adapter.
type DBConfig struct {
	Driver   string `yaml:"driver"` // mem, postgres, http
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Agent configures how the driver reaches the node agents.
type Agent struct {
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// DefaultConfig mirrors replicheck.DefaultOptions plus CLI-only knobs.
func DefaultConfig() *Config {
	opt := replicheck.DefaultOptions()
	return &Config{
		Nodes:            []string{"localhost"},
		Concurrency:      opt.Concurrency,
		Rate:             opt.Rate,
		TimeLimit:        Duration(opt.TimeLimit),
		SettleDelay:      Duration(opt.SettleDelay),
		Keys:             opt.Keys,
		MinTxnOps:        opt.MinTxnOps,
		MaxTxnOps:        opt.MaxTxnOps,
		InvokeTimeout:    Duration(opt.InvokeTimeout),
		OpenRetries:      opt.OpenRetries,
		FinalReadRetries: opt.FinalReadRetries,
		RestartDelay:     Duration(opt.RestartDelay),
		Workloads:        "*",
		Nemeses:          "*",
		DB:               DBConfig{Driver: "mem"},
		Agent:            Agent{Port: opt.AgentPort, Password: "replicheck"},
	}
}

// LoadConfig reads a YAML plan over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate rejects plans that cannot run.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("config: at least one node required")
	}
	if c.Concurrency < 1 {
		return errors.Errorf("config: invalid concurrency %d", c.Concurrency)
	}
	if c.Rate <= 0 {
		return errors.Errorf("config: invalid rate %v", c.Rate)
	}
	if c.Keys < 1 {
		return errors.Errorf("config: invalid key count %d", c.Keys)
	}
	if c.MinTxnOps < 1 || c.MaxTxnOps < c.MinTxnOps {
		return errors.Errorf("config: invalid txn size bounds [%d, %d]", c.MinTxnOps, c.MaxTxnOps)
	}
	if c.Agent.Port <= 0 || c.Agent.Port >= 1<<16 {
		return errors.Errorf("config: invalid agent port %d", c.Agent.Port)
	}
	switch c.DB.Driver {
	case "mem", "postgres", "http":
	default:
		return errors.Errorf("config: unknown db driver %q", c.DB.Driver)
	}
	return nil
}

// Options converts the plan into run options.
func (c *Config) Options() *replicheck.Options {
	return &replicheck.Options{
		Nodes:            c.Nodes,
		Concurrency:      c.Concurrency,
		Rate:             c.Rate,
		TimeLimit:        c.TimeLimit.D(),
		SettleDelay:      c.SettleDelay.D(),
		Keys:             c.Keys,
		MinTxnOps:        c.MinTxnOps,
		MaxTxnOps:        c.MaxTxnOps,
		InvokeTimeout:    c.InvokeTimeout.D(),
		OpenRetries:      c.OpenRetries,
		FinalReadRetries: c.FinalReadRetries,
		RestartDelay:     c.RestartDelay.D(),
		AgentPort:        c.Agent.Port,
		AgentPassword:    c.Agent.Password,
		Seed:             c.Seed,
		Extras:           c.Extras,
	}
}
