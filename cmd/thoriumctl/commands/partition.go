package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roasbeef/thorium/internal/demo/partitioner"
	"github.com/roasbeef/thorium/internal/thorium"
)

var (
	peerAddr    string
	remoteNode  int32
	remoteName  int32
	blockSize   int
	entries     []int
	actorCount  int
	selfNodeID  int32
	clusterSize int32
)

func init() {
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "drive the demo partitioner actor's SET_*/PROVIDE_STORE_ENTRY_COUNTS handshake",
		RunE:  runPartition,
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "host:port of the target thoriumd's websocket transport")
	cmd.Flags().Int32Var(&remoteNode, "remote-node", 0, "node id the target partitioner actor lives on")
	cmd.Flags().Int32Var(&remoteName, "remote-actor", 0, "name of the target partitioner actor")
	cmd.Flags().IntVar(&blockSize, "block-size", 4096, "SET_BLOCK_SIZE value")
	cmd.Flags().IntSliceVar(&entries, "entries", []int{10000}, "SET_ENTRY_VECTOR values")
	cmd.Flags().IntVar(&actorCount, "actor-count", 3, "SET_ACTOR_COUNT value")
	cmd.Flags().Int32Var(&selfNodeID, "self-node", 99, "this client's satellite node id")
	cmd.Flags().Int32Var(&clusterSize, "node-count", 2, "total node count, for deterministic addressing")
	rootCmd.AddCommand(cmd)
}

func runPartition(cmd *cobra.Command, args []string) error {
	if peerAddr == "" {
		return fmt.Errorf("--peer is required")
	}

	cfg := thorium.DefaultConfig().Apply(
		thorium.WithNodeIdentity(selfNodeID, clusterSize),
		thorium.WithWorkerCount(1),
	)

	transport, err := thorium.NewWebsocketTransport(
		selfNodeID, "127.0.0.1:0",
		map[int32]string{remoteNode: peerAddr},
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", peerAddr, err)
	}

	node := thorium.NewNode(cfg, transport)

	replyC := make(chan []int, 1)
	const driverScript thorium.ScriptID = 1

	if err := node.RegisterScript(driverScript, newDriverFactory(
		thorium.Name(remoteName), blockSize, entries, actorCount, replyC,
	)); err != nil {
		return err
	}

	node.Start()
	defer node.Shutdown()

	if _, err := node.Spawn(driverScript); err != nil {
		return fmt.Errorf("spawning driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- node.Run(ctx) }()

	select {
	case counts := <-replyC:
		cancel()
		<-runDone
		fmt.Printf("PROVIDE_STORE_ENTRY_COUNTS: %v\n", counts)
		return nil
	case <-ctx.Done():
		<-runDone
		return fmt.Errorf("timed out waiting for a reply from node %d actor %d", remoteNode, remoteName)
	}
}

// driverScript sends the three handshake messages to a remote partitioner
// on Init and forwards its reply onto replyC.
type driverScript struct {
	target     thorium.Name
	blockSize  int
	entries    []int
	actorCount int
	replyC     chan []int
}

func newDriverFactory(target thorium.Name, blockSize int, entries []int,
	actorCount int, replyC chan []int) thorium.ScriptFactory {

	return func() thorium.Script {
		return &driverScript{
			target: target, blockSize: blockSize, entries: entries,
			actorCount: actorCount, replyC: replyC,
		}
	}
}

func (d *driverScript) Init(ctx *thorium.Context) error {
	if err := ctx.Send(d.target, partitioner.TagSetBlockSize,
		partitioner.EncodeUint32(d.blockSize)); err != nil {
		return err
	}
	if err := ctx.Send(d.target, partitioner.TagSetEntryVector,
		partitioner.EncodeUint32Vector(d.entries)); err != nil {
		return err
	}
	return ctx.Send(d.target, partitioner.TagSetActorCount,
		partitioner.EncodeUint32(d.actorCount))
}

func (d *driverScript) Destroy(ctx *thorium.Context) {}

func (d *driverScript) Receive(ctx *thorium.Context, msg thorium.Message) {
	if msg.Tag == partitioner.TagProvideStoreEntryCounts {
		d.replyC <- partitioner.DecodeUint32Vector(msg.Payload)
	}
}
