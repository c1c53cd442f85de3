package thorium

import (
	"encoding/binary"
	"fmt"
)

// Reserved system tags. These occupy the dedicated high-bit range; every
// other tag value is application-defined and opaque to the engine.
const (
	systemTagBase Tag = 1 << 30

	ActionSpawn Tag = systemTagBase + iota
	ActionSpawnReply
	ActionStart
	ActionStartReply
	ActionStop
	ActionAskToStop
	ActionGetNodeWorkerCount
	ActionBinomialTreeSend
	ActionDeadLetter
)

// Tag is the integer discriminator a message carries. The engine interprets
// only the reserved system tags above; everything else is opaque to it and
// meaningful only to the script that registered a receive handler for it.
type Tag int32

// wireHeaderLen is the size in bytes of a single message's fixed header, per
// spec §6: tag(4) | source(4) | dest(4) | payload_length(4).
const wireHeaderLen = 16

// MaxPayloadLen bounds a single message's payload so that payload_length,
// encoded as a 4-byte field, never wraps.
const MaxPayloadLen = 1<<31 - 1

// Message is the opaque, tagged unit of IPC between actors. A Message is
// owned by exactly one of {sender, mailbox, multiplexer batch, transport,
// receive handler, recycle pool} at any instant; Send consumes it, and a
// receive handler must not retain it past return.
type Message struct {
	Tag         Tag
	Source      Name
	Dest        Name
	Payload     []byte
	WorkerOrigin int
	// buf, when non-nil, is the pooled backing array this Message's
	// Payload was allocated from; release returns it to origin's pool.
	buf []byte
}

// release returns the message's backing buffer to the memory pool it was
// allocated from, if any. Called by a worker once its receive handler for
// this message returns, per spec §4.3 step 5.
func (m *Message) release(origin *Pool) {
	if m.buf == nil || origin == nil {
		return
	}
	origin.Free(m.buf)
	m.buf = nil
	m.Payload = nil
}

// EncodedLen returns the wire size of m: the fixed header plus payload.
func (m *Message) EncodedLen() int {
	return wireHeaderLen + len(m.Payload)
}

// Encode appends the wire representation of m to dst and returns the
// extended slice, using the fixed-offset header described in spec §6.
// Endianness is the sender's native byte order; the cluster is assumed
// homogeneous, so no conversion is performed.
func (m *Message) Encode(dst []byte) ([]byte, error) {
	if len(m.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("thorium: payload too large: %d bytes", len(m.Payload))
	}

	var hdr [wireHeaderLen]byte
	nativeOrder.PutUint32(hdr[0:4], uint32(m.Tag))
	nativeOrder.PutUint32(hdr[4:8], uint32(m.Source))
	nativeOrder.PutUint32(hdr[8:12], uint32(m.Dest))
	nativeOrder.PutUint32(hdr[12:16], uint32(len(m.Payload)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, m.Payload...)
	return dst, nil
}

// DecodeMessage reads one wire-format message from src, returning the
// decoded Message and the number of bytes consumed. The returned Message's
// Payload aliases src; callers that need to retain it past the lifetime of
// src must copy.
func DecodeMessage(src []byte) (Message, int, error) {
	if len(src) < wireHeaderLen {
		return Message{}, 0, fmt.Errorf("thorium: short message header: %d bytes", len(src))
	}

	tag := Tag(nativeOrder.Uint32(src[0:4]))
	source := Name(nativeOrder.Uint32(src[4:8]))
	dest := Name(nativeOrder.Uint32(src[8:12]))
	payloadLen := nativeOrder.Uint32(src[12:16])

	total := wireHeaderLen + int(payloadLen)
	if len(src) < total {
		return Message{}, 0, fmt.Errorf(
			"thorium: short message payload: need %d, have %d",
			total, len(src))
	}

	msg := Message{
		Tag:     tag,
		Source:  source,
		Dest:    dest,
		Payload: src[wireHeaderLen:total],
	}
	return msg, total, nil
}

// nativeOrder is the host's native byte order, used for wire encoding per
// spec §6 ("endianness is sender's native; cluster is homogeneous").
var nativeOrder = binary.NativeEndian
