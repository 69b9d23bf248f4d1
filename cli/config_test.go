package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mem", cfg.DB.Driver)
	assert.Equal(t, []string{"localhost"}, cfg.Nodes)
	assert.Equal(t, "*", cfg.Workloads)
}

func TestLoadConfigFile(t *testing.T) {
	plan := `
nodes: [n1, n2, n3]
concurrency: 10
rate: 50
time_limit: 45s
settle_delay: 5s
keys: 16
workloads: "list-*"
nemeses: "partition-*|kill"
realtime: true
db:
  driver: postgres
  port: 26257
  user: root
  name: test
agent:
  port: 9191
  password: secret
extras:
  replicas: "3"
`
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plan), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"n1", "n2", "n3"}, cfg.Nodes)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.TimeLimit.D())
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 9191, cfg.Agent.Port)
	assert.True(t, cfg.Realtime)
	// Unset knobs keep their defaults.
	assert.Equal(t, 4, cfg.MaxTxnOps)

	opt := cfg.Options()
	assert.Equal(t, 16, opt.Keys)
	assert.Equal(t, 9191, opt.AgentPort)
	assert.Equal(t, "3", opt.Extras["replicas"])
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config { return DefaultConfig() }

	cfg := base()
	cfg.Nodes = nil
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Rate = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MinTxnOps = 3
	cfg.MaxTxnOps = 2
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DB.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Agent.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestFilter(t *testing.T) {
	f := MakeFilter("partition-*|kill", "partition-all")
	assert.True(t, f.Match("partition-majority"))
	assert.True(t, f.Match("kill"))
	assert.False(t, f.Match("partition-all"))
	assert.False(t, f.Match("pause"))

	everything := MakeFilter("*", "")
	assert.True(t, everything.Match("anything"))
}
