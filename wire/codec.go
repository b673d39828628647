package wire

import (
	"encoding/binary"
	"io"
)

// Codec reads and writes Packets over a stream under a configured payload
// cap. A zero-value Codec is not usable; use NewCodec.
type Codec struct {
	maxPayloadSize uint32
}

// NewCodec returns a Codec that rejects payloads larger than
// maxPayloadSize. A maxPayloadSize of 0 selects DefaultMaxPayloadSize.
func NewCodec(maxPayloadSize uint32) *Codec {
	if maxPayloadSize == 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Codec{maxPayloadSize: maxPayloadSize}
}

// Encode concatenates the 12-byte header and the payload into a single
// buffer. Callers own fragmentation of the result onto the wire.
func (c *Codec) Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	buf[5] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(p.Payload)))
	// buf[10:12] reserved, left zero.
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// WritePacket encodes p and writes it to w in a single call.
func (c *Codec) WritePacket(w io.Writer, p Packet) error {
	buf := c.Encode(p)
	n, err := w.Write(buf)
	if err != nil {
		return &ConnectionError{Op: "write packet", Got: n, Expected: len(buf), Err: err}
	}
	if n != len(buf) {
		return &ConnectionError{Op: "write packet", Got: n, Expected: len(buf)}
	}
	return nil
}

// ReadPacket reads exactly one packet from r: 12 header bytes, validated,
// then exactly payload-length bytes. Errors distinguish protocol
// violations (bad magic/version/type, oversize payload — rejected before
// the payload is read) from connection errors (truncated reads, I/O
// failure, orderly close).
func (c *Codec) ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return Packet{}, &ConnectionError{Op: "read header", Got: 0, Expected: HeaderSize}
		}
		return Packet{}, &ConnectionError{Op: "read header", Got: n, Expected: HeaderSize, Err: err}
	}

	if header[0] != Magic[0] || header[1] != Magic[1] || header[2] != Magic[2] || header[3] != Magic[3] {
		return Packet{}, protocolErrorf("bad magic %q", header[0:4])
	}
	if header[4] != Version {
		return Packet{}, protocolErrorf("unsupported version %d", header[4])
	}
	t := PacketType(header[5])
	if !t.Valid() {
		return Packet{}, protocolErrorf("unknown packet type 0x%02x", header[5])
	}
	payloadLen := binary.BigEndian.Uint32(header[6:10])
	if payloadLen > c.maxPayloadSize {
		return Packet{}, protocolErrorf("payload length %d exceeds max %d", payloadLen, c.maxPayloadSize)
	}

	if payloadLen == 0 {
		return Packet{Type: t}, nil
	}

	payload := make([]byte, payloadLen)
	n, err = io.ReadFull(r, payload)
	if err != nil {
		if n == 0 && err == io.EOF {
			return Packet{}, &ConnectionError{Op: "read payload", Got: 0, Expected: int(payloadLen)}
		}
		return Packet{}, &ConnectionError{Op: "read payload", Got: n, Expected: int(payloadLen), Err: err}
	}

	return Packet{Type: t, Payload: payload}, nil
}
