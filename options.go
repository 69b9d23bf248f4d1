package replicheck

import "time"

// Options carries a full test run configuration. The zero value is not
// usable; DefaultOptions fills the knobs most runs leave alone.
type Options struct {
	Nodes       []string
	Concurrency int

	// Rate is the target operation rate per process, in ops/sec. Release
	// times are exponentially distributed around it.
	Rate float64

	TimeLimit   time.Duration // main phase wall-clock bound
	SettleDelay time.Duration // quiescence before final reads

	Keys      int // bounded key space: keys are 0..Keys-1
	MinTxnOps int
	MaxTxnOps int

	InvokeTimeout    time.Duration
	OpenRetries      int
	FinalReadRetries int
	RestartDelay     time.Duration // delay before the post-kill start hook

	AgentPort     int
	AgentPassword string

	Seed int64 // 0 means derive from crypto/rand

	Extras map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Concurrency:      5,
		Rate:             10,
		TimeLimit:        30 * time.Second,
		SettleDelay:      10 * time.Second,
		Keys:             8,
		MinTxnOps:        1,
		MaxTxnOps:        4,
		InvokeTimeout:    5 * time.Second,
		OpenRetries:      5,
		FinalReadRetries: 5,
		RestartDelay:     2 * time.Second,
		AgentPort:        9090,
	}
}

func (opt *Options) GetExtra(key string) (string, bool) {
	s, ok := opt.Extras[key]
	return s, ok
}
