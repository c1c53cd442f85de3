package thorium

import (
	"os"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// envNodeName, envNodeCount, and envDeterministicNames are the environment
// variables a cluster-level launcher sets before starting a node, per spec
// §4.1 "Name assignment" and §6 "Environment".
const (
	envNodeName            = "THORIUM_NODE_NAME"
	envNodeCount           = "THORIUM_NODE_COUNT"
	envDeterministicNames  = "THORIUM_NODE_USE_DETERMINISTIC_ACTOR_NAMES"
)

// Config configures a Node, built with functional options in the style of
// the teacher's SystemConfig / DefaultConfig()
// (internal/baselib/actor/system.go).
type Config struct {
	// NodeName is this process's integer node id within the cluster.
	NodeName int32

	// NodeCount is the total number of nodes in the cluster.
	NodeCount int32

	// WorkerCount is the number of Worker goroutines this node runs.
	// Zero (or any value below one) selects runtime.NumCPU() workers.
	WorkerCount int

	// Deterministic selects the name-assignment scheme described in
	// spec §4.1: when true, name mod NodeCount == NodeName, giving O(1)
	// location lookup; when false, names are random 31-bit integers and
	// resolving their owning node requires an out-of-band directory
	// (out of scope for this package).
	Deterministic bool

	// ActorsPerNode bounds how many actors this node may have alive at
	// once; Spawn returns ErrActorTableFull once AliveActors() reaches
	// it, per spec §4.1 "Fails if ... the slot table is exhausted". The
	// deterministic naming scheme does not use it: owning nodes are
	// found by name mod NodeCount.
	ActorsPerNode int32

	// MailboxCapacity is the default bound of a newly spawned actor's
	// mailbox.
	MailboxCapacity int

	// ReadyQueueSize bounds each worker's ready queue.
	ReadyQueueSize int

	// LoadPeriod is how often the main loop snapshots counters for
	// instrumentation, per spec §4.1 step 4 ("every LOAD_PERIOD
	// seconds").
	LoadPeriod time.Duration

	// PollInterval is how long the main loop sleeps between iterations
	// when there is no pending transport or death-queue work.
	PollInterval time.Duration

	// DeathQueueSize bounds the main loop's death-triage channel (spec
	// §4.1 step 3).
	DeathQueueSize int

	// ShutdownGrace, when set, is how long shutdownWorkers waits before
	// stopping the worker pool, giving in-flight dispatch one last
	// chance to drain. Unset (fn.None) stops immediately, matching the
	// teacher's cleanupTimeout fn.Option[time.Duration]
	// (internal/baselib/actor/system.go).
	ShutdownGrace fn.Option[time.Duration]
}

// DefaultConfig returns a Config with the same shape of defaults as the
// teacher's actor.DefaultConfig: small, workable numbers suitable for
// tests and single-process demos.
func DefaultConfig() Config {
	return Config{
		NodeName:        0,
		NodeCount:       1,
		WorkerCount:     4,
		Deterministic:   true,
		ActorsPerNode:   1 << 20,
		MailboxCapacity: 256,
		ReadyQueueSize:  1024,
		LoadPeriod:      10 * time.Second,
		PollInterval:    time.Millisecond,
		DeathQueueSize:  256,
		ShutdownGrace:   fn.None[time.Duration](),
	}
}

// ConfigFromEnv overlays environment variables onto DefaultConfig, per spec
// §6 "Environment: a cluster-level launcher ... sets node_name, nodes
// total ... the engine consumes these as opaque initialization
// parameters."
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv(envNodeName); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.NodeName = int32(n)
		}
	}
	if v, ok := os.LookupEnv(envNodeCount); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			cfg.NodeCount = int32(n)
		}
	}
	if v, ok := os.LookupEnv(envDeterministicNames); ok {
		b, err := strconv.ParseBool(v)
		cfg.Deterministic = err == nil && b
	}

	return cfg
}

// ConfigOption mutates a Config at construction time.
type ConfigOption func(*Config)

// WithWorkerCount overrides the worker count.
func WithWorkerCount(n int) ConfigOption {
	return func(c *Config) { c.WorkerCount = n }
}

// WithNodeIdentity sets the node's name and the cluster's total node count.
func WithNodeIdentity(name, count int32) ConfigOption {
	return func(c *Config) {
		c.NodeName = name
		c.NodeCount = count
	}
}

// WithMailboxCapacity overrides the default per-actor mailbox bound.
func WithMailboxCapacity(n int) ConfigOption {
	return func(c *Config) { c.MailboxCapacity = n }
}

// WithShutdownGrace sets how long shutdownWorkers waits before stopping
// the worker pool once shutdown begins.
func WithShutdownGrace(d time.Duration) ConfigOption {
	return func(c *Config) { c.ShutdownGrace = fn.Some(d) }
}

// Apply applies opts to cfg and returns the result.
func (cfg Config) Apply(opts ...ConfigOption) Config {
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
