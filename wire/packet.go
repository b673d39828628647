// Package wire implements the HTCP framing codec: the 12-byte packet
// header, the closed packet-type and error-code enums, and the
// synchronous read/write primitives every higher layer is built on.
package wire

import "fmt"

// PacketType is the 8-bit tag carried in byte 5 of the header.
type PacketType uint8

const (
	// Client -> server.
	PacketHandshakeRequest   PacketType = 0x01
	PacketTransactionCall    PacketType = 0x02
	PacketDisconnect         PacketType = 0x03
	PacketSubscribeRequest   PacketType = 0x04
	PacketUnsubscribeRequest PacketType = 0x05

	// Server -> client.
	PacketHandshakeResponse PacketType = 0x11
	PacketTransactionResult PacketType = 0x12
	PacketError             PacketType = 0x13
	PacketSubscribeData     PacketType = 0x14
	PacketSubscribeEnd      PacketType = 0x15
	PacketSubscribeError    PacketType = 0x16
)

func (t PacketType) String() string {
	switch t {
	case PacketHandshakeRequest:
		return "handshake-request"
	case PacketTransactionCall:
		return "transaction-call"
	case PacketDisconnect:
		return "disconnect"
	case PacketSubscribeRequest:
		return "subscribe-request"
	case PacketUnsubscribeRequest:
		return "unsubscribe-request"
	case PacketHandshakeResponse:
		return "handshake-response"
	case PacketTransactionResult:
		return "transaction-result"
	case PacketError:
		return "error"
	case PacketSubscribeData:
		return "subscribe-data"
	case PacketSubscribeEnd:
		return "subscribe-end"
	case PacketSubscribeError:
		return "subscribe-error"
	default:
		return fmt.Sprintf("packet-type(0x%02x)", uint8(t))
	}
}

// Valid reports whether t is one of the closed enum members.
func (t PacketType) Valid() bool {
	switch t {
	case PacketHandshakeRequest, PacketTransactionCall, PacketDisconnect,
		PacketSubscribeRequest, PacketUnsubscribeRequest,
		PacketHandshakeResponse, PacketTransactionResult, PacketError,
		PacketSubscribeData, PacketSubscribeEnd, PacketSubscribeError:
		return true
	default:
		return false
	}
}

// ErrorCode is the closed error taxonomy surfaced on the wire (spec §3).
type ErrorCode uint8

const (
	ErrorCodeSuccess            ErrorCode = 0
	ErrorCodeUnknownTransaction ErrorCode = 1
	ErrorCodeInvalidArguments   ErrorCode = 2
	ErrorCodeExecutionError     ErrorCode = 3
	ErrorCodeProtocolError      ErrorCode = 4
	ErrorCodeInternalError      ErrorCode = 5
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeSuccess:
		return "success"
	case ErrorCodeUnknownTransaction:
		return "unknown-transaction"
	case ErrorCodeInvalidArguments:
		return "invalid-arguments"
	case ErrorCodeExecutionError:
		return "execution-error"
	case ErrorCodeProtocolError:
		return "protocol-error"
	case ErrorCodeInternalError:
		return "internal-error"
	default:
		return fmt.Sprintf("error-code(%d)", uint8(c))
	}
}

// Magic identifies an HTCP header. Version is the single protocol version
// byte this implementation speaks.
var Magic = [4]byte{'H', 'T', 'C', 'P'}

const (
	Version = 1

	// HeaderSize is the fixed size in bytes of every packet header.
	HeaderSize = 12

	// DefaultMaxPayloadSize is the cap applied when a caller does not
	// configure one explicitly (spec §4.1).
	DefaultMaxPayloadSize = 16 << 20 // 16 MiB
)

// Packet is one framed unit on the wire: header plus opaque payload.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// NewPacket builds a Packet, copying nothing — callers own payload.
func NewPacket(t PacketType, payload []byte) Packet {
	return Packet{Type: t, Payload: payload}
}
