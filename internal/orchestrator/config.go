package orchestrator

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every orchestration constant. Nothing here is compiled in:
// all values come from the environment with the defaults below.
type Config struct {
	// QueueName is the redis list admitted job ids are pushed to.
	QueueName string

	// ChunkFrames is the fixed partition size in frames. It is a constant
	// per deployment, not derived per request, so worker invocation cost
	// stays predictable.
	ChunkFrames int

	// DispatchRetries is how many times a failed fleet submit is retried
	// with the same partition plan before the job fails.
	DispatchRetries int
	DispatchBackoff time.Duration

	// PollInterval is the fixed delay between progress polls of one job.
	PollInterval time.Duration
	// PollFailureBudget is how many consecutive transient poll failures are
	// tolerated before the job fails with POLL_TIMEOUT.
	PollFailureBudget int

	// StorageRetries bounds finalize-time storage commit retries.
	StorageRetries int
	StorageBackoff time.Duration

	// RenderDeadline is the overall ceiling on a job's time in flight after
	// dispatch; a fleet that never reports done cannot hold a job forever.
	RenderDeadline time.Duration

	// FleetCallTimeout bounds each individual submit/poll call.
	FleetCallTimeout time.Duration

	// RenderRoot is the shared scratch directory the fleet writes rendered
	// artifacts to, keyed by object key.
	RenderRoot string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:         "postaty:render-jobs",
		ChunkFrames:       150,
		DispatchRetries:   1,
		DispatchBackoff:   time.Second,
		PollInterval:      3 * time.Second,
		PollFailureBudget: 5,
		StorageRetries:    2,
		StorageBackoff:    2 * time.Second,
		RenderDeadline:    30 * time.Minute,
		FleetCallTimeout:  30 * time.Second,
		RenderRoot:        "/data",
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// the defaults for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.QueueName = envStr("JOB_QUEUE_NAME", cfg.QueueName)
	cfg.ChunkFrames = envInt("RENDER_CHUNK_FRAMES", cfg.ChunkFrames)
	cfg.DispatchRetries = envInt("DISPATCH_RETRIES", cfg.DispatchRetries)
	cfg.DispatchBackoff = envDuration("DISPATCH_BACKOFF", cfg.DispatchBackoff)
	cfg.PollInterval = envDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.PollFailureBudget = envInt("POLL_FAILURE_BUDGET", cfg.PollFailureBudget)
	cfg.StorageRetries = envInt("STORAGE_RETRIES", cfg.StorageRetries)
	cfg.StorageBackoff = envDuration("STORAGE_BACKOFF", cfg.StorageBackoff)
	cfg.RenderDeadline = envDuration("RENDER_DEADLINE", cfg.RenderDeadline)
	cfg.FleetCallTimeout = envDuration("FLEET_CALL_TIMEOUT", cfg.FleetCallTimeout)
	cfg.RenderRoot = envStr("STORAGE_LOCAL_ROOT", cfg.RenderRoot)

	return cfg
}

func envStr(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
