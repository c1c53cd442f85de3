// Command thoriumd runs one node of a thorium cluster: it owns a pool of
// worker goroutines, a set of registered scripts, and the transport used to
// reach the cluster's other nodes, per spec.md §4.1 init()/run().
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"

	"github.com/roasbeef/thorium/internal/build"
	"github.com/roasbeef/thorium/internal/demo/partitioner"
	"github.com/roasbeef/thorium/internal/thorium"
)

// peerList accumulates repeated -peer flags of the form "nodeID=host:port".
type peerList map[int32]string

func (p peerList) String() string {
	var parts []string
	for id, addr := range p {
		parts = append(parts, fmt.Sprintf("%d=%s", id, addr))
	}
	return strings.Join(parts, ",")
}

func (p peerList) Set(value string) error {
	id, addr, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("peer must be nodeID=host:port, got %q", value)
	}
	var nodeID int32
	if _, err := fmt.Sscanf(id, "%d", &nodeID); err != nil {
		return fmt.Errorf("peer node id %q: %w", id, err)
	}
	p[nodeID] = addr
	return nil
}

func main() {
	var (
		threads           = flag.Int("threads", 0, "worker count per node (0 selects a default derived from the host)")
		printLoad         = flag.Bool("print-load", false, "periodically print per-worker load")
		printMemoryUsage  = flag.Bool("print-memory-usage", false, "periodically print pool allocation counts")
		printCounters     = flag.Bool("print-counters", false, "periodically print engine counters")
		nodeName          = flag.Int("node-name", -1, "this node's integer id (overrides THORIUM_NODE_NAME)")
		nodeCount         = flag.Int("node-count", -1, "total node count in the cluster (overrides THORIUM_NODE_COUNT)")
		listenAddr        = flag.String("listen", "", "address to accept inter-node websocket connections on (empty: loopback-only, single-process)")
		demo              = flag.Bool("demo", false, "spawn a demonstration partitioner actor on startup")
		logDir            = flag.String("log-dir", "", "directory for rotated log files (empty disables file logging)")
		maxLogFiles       = flag.Int("max-log-files", build.DefaultMaxLogFiles, "maximum rotated log files to keep")
		maxLogFileSize    = flag.Int("max-log-file-size", build.DefaultMaxLogFileSize, "maximum log file size in MB before rotation")
	)
	peers := make(peerList)
	flag.Var(peers, "peer", "repeated nodeID=host:port static peer address")
	flag.Parse()

	var logRotator *build.RotatingLogWriter
	if *logDir != "" {
		logRotator = build.NewRotatingLogWriter()
		if err := logRotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         *logDir,
			MaxLogFiles:    *maxLogFiles,
			MaxLogFileSize: *maxLogFileSize,
		}); err != nil {
			log.Printf("failed to init log rotator: %v (continuing without file logging)", err)
			logRotator = nil
		} else {
			defer logRotator.Close()
		}
	}

	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))
	if logRotator != nil {
		handlers = append(handlers, btclog.NewDefaultHandler(io.Writer(logRotator)))
	}
	combined := build.NewHandlerSet(handlers...)
	thorium.UseLogger(btclog.NewSLogger(combined))

	cfg := thorium.ConfigFromEnv()
	// A -threads value of 0 reaches the worker pool as is, which then
	// starts one worker per CPU.
	cfg = cfg.Apply(thorium.WithWorkerCount(*threads))
	if *nodeName >= 0 {
		cfg.NodeName = int32(*nodeName)
	}
	if *nodeCount > 0 {
		cfg.NodeCount = int32(*nodeCount)
	}

	var transport thorium.Transport
	if *listenAddr == "" {
		transport = thorium.NewLoopbackNetwork().NewTransport(cfg.NodeName)
	} else {
		var err error
		transport, err = thorium.NewWebsocketTransport(cfg.NodeName, *listenAddr, peers)
		if err != nil {
			log.Fatalf("failed to start transport: %v", err)
		}
	}

	node := thorium.NewNode(cfg, transport)

	if err := node.RegisterScript(partitioner.ScriptID, partitioner.New()); err != nil {
		log.Fatalf("failed to register partitioner script: %v", err)
	}

	node.Start()

	if *demo {
		name, err := node.Spawn(partitioner.ScriptID)
		if err != nil {
			log.Fatalf("failed to spawn demo partitioner: %v", err)
		}
		log.Printf("spawned demo partitioner actor %d", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	var wg sync.WaitGroup
	if *printLoad || *printMemoryUsage || *printCounters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportPeriodically(ctx, node, *printLoad, *printMemoryUsage, *printCounters)
		}()
	}

	log.Printf("thoriumd node=%d count=%d workers=%d starting",
		cfg.NodeName, cfg.NodeCount, len(node.WorkerLoads()))

	if err := node.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("node run loop exited: %v", err)
	}
	wg.Wait()
}

// reportPeriodically implements the CLI surface of spec.md §6: -print-load,
// -print-memory-usage, -print-counters print instrumentation every
// LOAD_PERIOD, the same cadence the node's own main loop samples counters.
func reportPeriodically(ctx context.Context, node *thorium.Node, load, memory, counters bool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if load {
				log.Printf("load: %v", node.WorkerLoads())
			}
			if counters {
				log.Printf("counters: %+v", node.Counters())
			}
			if memory {
				c := node.Counters()
				log.Printf("pool allocations: %d", c.PoolAllocations)
			}
		}
	}
}
