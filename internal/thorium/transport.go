package thorium

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Transport is the abstract send/probe interface over the network, per
// spec §2 ("Transport | 10% | Abstract send/probe interface over the
// network") and §1 ("the concrete network transport implementation; only
// its interface is specified"). The node engine never depends on a
// concrete transport directly.
type Transport interface {
	// Send hands envelope (a single wire message or a multiplex
	// envelope) to node for delivery. It does not block on
	// acknowledgement, and no completion notice is reported afterwards.
	Send(node int32, envelope []byte) error

	// Poll returns inbound envelopes received since the last call,
	// without blocking, per spec §4.1 step 1's inbound-message probe. It
	// reports inbound envelopes only, not completed outbound sends.
	Poll() []Inbound

	// Close releases any network resources.
	Close() error
}

// Inbound is one envelope received from the transport, tagged with the
// node id it arrived from.
type Inbound struct {
	FromNode int32
	Envelope []byte
}

// LoopbackTransport is an in-process Transport connecting every node
// constructed with the same *LoopbackNetwork, for single-process tests and
// demos that do not require a real network. Grounded conceptually in the
// sketch at other_examples/10f54094_senutpal-quorum
// internal-transport-memory.go.go (an unimplemented channel-registry
// design); this is the channel-registry made concrete.
type LoopbackTransport struct {
	net    *LoopbackNetwork
	nodeID int32

	mu     sync.Mutex
	inbox  []Inbound
	closed bool
}

// LoopbackNetwork is the shared registry LoopbackTransport instances use to
// find each other, analogous to the Network type sketched in the
// transport-memory reference file.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	nodes map[int32]*LoopbackTransport
}

// NewLoopbackNetwork constructs an empty in-process network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{nodes: make(map[int32]*LoopbackTransport)}
}

// NewTransport registers and returns a LoopbackTransport for nodeID.
func (net *LoopbackNetwork) NewTransport(nodeID int32) *LoopbackTransport {
	t := &LoopbackTransport{net: net, nodeID: nodeID}
	net.mu.Lock()
	net.nodes[nodeID] = t
	net.mu.Unlock()
	return t
}

// Send delivers envelope to the registered transport for node.
func (t *LoopbackTransport) Send(node int32, envelope []byte) error {
	t.net.mu.RLock()
	dest, ok := t.net.nodes[node]
	t.net.mu.RUnlock()
	if !ok {
		return ErrNoRoute
	}

	cp := make([]byte, len(envelope))
	copy(cp, envelope)

	dest.mu.Lock()
	defer dest.mu.Unlock()
	if dest.closed {
		return ErrTransportClosed
	}
	dest.inbox = append(dest.inbox, Inbound{FromNode: t.nodeID, Envelope: cp})
	return nil
}

// Poll returns and clears every envelope queued for this node.
func (t *LoopbackTransport) Poll() []Inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbox) == 0 {
		return nil
	}
	out := t.inbox
	t.inbox = nil
	return out
}

// Close marks this transport closed; further Sends to it fail.
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// wsTransport is the real inter-node Transport, built on
// golang.org/x/net/websocket, grounded in lguibr-pongo/server/websocket.go
// (Server tracking a connection set, readLoop reading frames into a fixed
// buffer) and pongoClient's dialing counterpart. It was chosen over a
// gRPC/protobuf transport specifically because it needs no generated code:
// this exercise forbids running the Go toolchain, so a protoc-generated
// stub could never be produced (see DESIGN.md).
type wsTransport struct {
	selfNode int32

	mu    sync.RWMutex
	peers map[int32]*websocket.Conn
	peerAddrs map[int32]string

	server *http.Server

	inboxMu sync.Mutex
	inbox   []Inbound

	closed bool
}

// NewWebsocketTransport starts listening on listenAddr for peer
// connections and returns a Transport that dials peerAddrs lazily on first
// Send, keyed by node id.
func NewWebsocketTransport(selfNode int32, listenAddr string, peerAddrs map[int32]string) (Transport, error) {
	t := &wsTransport{
		selfNode:  selfNode,
		peers:     make(map[int32]*websocket.Conn),
		peerAddrs: peerAddrs,
	}

	mux := http.NewServeMux()
	mux.Handle("/thorium", websocket.Handler(t.handleConn))

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("thorium: listening on %s: %w", listenAddr, err)
	}

	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket transport serve error: %v", err)
		}
	}()

	return t, nil
}

// handleConn is the server-side accept path, modeled on
// server.OpenConnection/readLoop in lguibr-pongo/server/websocket.go. The
// connection is accepted without any handshake, so the peer node id is
// unknown and every envelope read from it carries FromNode -1.
func (t *wsTransport) handleConn(ws *websocket.Conn) {
	t.readLoop(ws, -1)
}

// readLoop reads length-prefixed envelopes off ws until it closes, the
// same fixed-buffer read-loop shape as the teacher's server.readLoop.
// fromNode is the peer's node id when known ahead of time (outbound
// connections established via dial); -1 means it is unknown and is passed
// through unchanged as Inbound.FromNode. Routing does not use FromNode: it
// relies on the Source and Dest fields of the decoded messages.
func (t *wsTransport) readLoop(ws *websocket.Conn, fromNode int32) {
	defer ws.Close()

	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			return
		}

		t.inboxMu.Lock()
		t.inbox = append(t.inbox, Inbound{FromNode: fromNode, Envelope: frame})
		t.inboxMu.Unlock()
	}
}

// dial establishes (or reuses) an outbound connection to node.
func (t *wsTransport) dial(node int32) (*websocket.Conn, error) {
	t.mu.RLock()
	conn, ok := t.peers[node]
	t.mu.RUnlock()
	if ok {
		return conn, nil
	}

	addr, ok := t.peerAddrs[node]
	if !ok {
		return nil, ErrNoRoute
	}

	origin := fmt.Sprintf("http://node-%d/", t.selfNode)
	url := fmt.Sprintf("ws://%s/thorium", addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var conf *websocket.Config
	conf, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("thorium: dialing node %d at %s: %w", node, addr, err)
	}
	ws, err := websocket.NewClient(conf, nc)
	if err != nil {
		return nil, fmt.Errorf("thorium: websocket handshake with node %d: %w", node, err)
	}

	t.mu.Lock()
	t.peers[node] = ws
	t.mu.Unlock()

	go t.readLoop(ws, node)

	return ws, nil
}

func (t *wsTransport) Send(node int32, envelope []byte) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}

	conn, err := t.dial(node)
	if err != nil {
		return err
	}
	return websocket.Message.Send(conn, envelope)
}

func (t *wsTransport) Poll() []Inbound {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	if len(t.inbox) == 0 {
		return nil
	}
	out := t.inbox
	t.inbox = nil
	return out
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	for _, c := range t.peers {
		c.Close()
	}
	t.mu.Unlock()

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}
