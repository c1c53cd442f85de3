package thorium

import "errors"

var (
	// ErrScriptNotRegistered is returned by Spawn when the requested
	// script id has no registered descriptor.
	ErrScriptNotRegistered = errors.New("thorium: script not registered")

	// ErrScriptAlreadyRegistered is returned by RegisterScript when the
	// script id is already taken.
	ErrScriptAlreadyRegistered = errors.New("thorium: script already registered")

	// ErrActorTableFull is returned by Spawn when the node's actor slot
	// table is exhausted.
	ErrActorTableFull = errors.New("thorium: actor table exhausted")

	// ErrUnknownActor names the condition of a Send that targets a name
	// with no local or resolvable remote owner. Send does not return it
	// and routing does not log it: the engine drops such a message and
	// counts it in MessagesDropped.
	ErrUnknownActor = errors.New("thorium: unknown destination actor")

	// ErrNodeClosed is returned by Send/Spawn once the node has begun
	// shutting down.
	ErrNodeClosed = errors.New("thorium: node is shutting down")

	// ErrMailboxClosed is returned by Mailbox.Send once the mailbox has
	// been closed, mirroring the teacher's ChannelMailbox behavior.
	ErrMailboxClosed = errors.New("thorium: mailbox closed")

	// ErrMailboxFull is returned by Mailbox.TrySend when the bounded
	// FIFO has no room and the caller asked not to block.
	ErrMailboxFull = errors.New("thorium: mailbox full")

	// ErrTransportClosed is returned by Transport operations once Close
	// has been called.
	ErrTransportClosed = errors.New("thorium: transport closed")

	// ErrNoRoute is returned by a Transport when it has no peer address
	// for the requested node id.
	ErrNoRoute = errors.New("thorium: no route to node")
)
