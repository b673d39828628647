// Package message implements the HTCP message layer (spec §4.3): typed
// envelopes carried as the payload of each packet type, built on package
// value's mapping encoding and package wire's packet taxonomy. Every
// envelope wire-encodes as a plain string-keyed value.Mapping (tag 0x09),
// matching how the reference implementation builds each one from a dict
// (src/htcp/common/messages.py), not value.Record — Record is reserved for
// user-defined dataclass/Pydantic-shaped values a transaction itself
// passes as an argument or returns as a result.
package message

import (
	"fmt"

	"htcp/value"
	"htcp/wire"
)

// HandshakeResponse is the handshake-response payload.
type HandshakeResponse struct {
	ServerName   string
	Transactions []string
}

func (h HandshakeResponse) Encode() ([]byte, error) {
	txs := make(value.List, len(h.Transactions))
	for i, t := range h.Transactions {
		txs[i] = value.String(t)
	}
	return value.Encode(value.Mapping{
		{Key: value.String("server_name"), Value: value.String(h.ServerName)},
		{Key: value.String("transactions"), Value: txs},
	})
}

func DecodeHandshakeResponse(payload []byte) (HandshakeResponse, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return HandshakeResponse{}, err
	}
	name, err := getString(m, "server_name")
	if err != nil {
		return HandshakeResponse{}, err
	}
	txsVal, err := getList(m, "transactions")
	if err != nil {
		return HandshakeResponse{}, err
	}
	txs := make([]string, len(txsVal))
	for i, v := range txsVal {
		s, ok := v.(value.String)
		if !ok {
			return HandshakeResponse{}, protoErr("transactions[%d] is not a string", i)
		}
		txs[i] = string(s)
	}
	return HandshakeResponse{ServerName: name, Transactions: txs}, nil
}

// TransactionCall is the transaction-call payload.
type TransactionCall struct {
	Transaction string
	Arguments   value.Mapping
}

func (c TransactionCall) Encode() ([]byte, error) {
	args := c.Arguments
	if args == nil {
		args = value.Mapping{}
	}
	return value.Encode(value.Mapping{
		{Key: value.String("transaction"), Value: value.String(c.Transaction)},
		{Key: value.String("arguments"), Value: args},
	})
}

func DecodeTransactionCall(payload []byte) (TransactionCall, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return TransactionCall{}, err
	}
	name, err := getString(m, "transaction")
	if err != nil {
		return TransactionCall{}, err
	}
	args, err := getMapping(m, "arguments")
	if err != nil {
		return TransactionCall{}, err
	}
	return TransactionCall{Transaction: name, Arguments: args}, nil
}

// TransactionResult is the transaction-result payload.
type TransactionResult struct {
	Success      bool
	Result       value.Value
	ErrorCode    wire.ErrorCode
	ErrorMessage string
}

func (r TransactionResult) Encode() ([]byte, error) {
	result := r.Result
	if result == nil {
		result = value.Null{}
	}
	return value.Encode(value.Mapping{
		{Key: value.String("success"), Value: value.Bool(r.Success)},
		{Key: value.String("result"), Value: result},
		{Key: value.String("error_code"), Value: value.NewIntFromInt64(int64(r.ErrorCode))},
		{Key: value.String("error_message"), Value: value.String(r.ErrorMessage)},
	})
}

func DecodeTransactionResult(payload []byte) (TransactionResult, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return TransactionResult{}, err
	}
	success, err := getBool(m, "success")
	if err != nil {
		return TransactionResult{}, err
	}
	result, ok := m.Get("result")
	if !ok {
		return TransactionResult{}, protoErr("missing field result")
	}
	code, err := getInt(m, "error_code")
	if err != nil {
		return TransactionResult{}, err
	}
	msg, err := getString(m, "error_message")
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{
		Success:      bool(success),
		Result:       result,
		ErrorCode:    wire.ErrorCode(code),
		ErrorMessage: msg,
	}, nil
}

// ErrorMessage is the error packet payload.
type ErrorMessage struct {
	ErrorCode wire.ErrorCode
	Message   string
}

func (e ErrorMessage) Encode() ([]byte, error) {
	return value.Encode(value.Mapping{
		{Key: value.String("error_code"), Value: value.NewIntFromInt64(int64(e.ErrorCode))},
		{Key: value.String("message"), Value: value.String(e.Message)},
	})
}

func DecodeErrorMessage(payload []byte) (ErrorMessage, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return ErrorMessage{}, err
	}
	code, err := getInt(m, "error_code")
	if err != nil {
		return ErrorMessage{}, err
	}
	msg, err := getString(m, "message")
	if err != nil {
		return ErrorMessage{}, err
	}
	return ErrorMessage{ErrorCode: wire.ErrorCode(code), Message: msg}, nil
}

// SubscribeRequest is the subscribe-request payload.
type SubscribeRequest struct {
	SubscriptionID string
	EventType      string
	Arguments      value.Mapping
}

func (s SubscribeRequest) Encode() ([]byte, error) {
	args := s.Arguments
	if args == nil {
		args = value.Mapping{}
	}
	return value.Encode(value.Mapping{
		{Key: value.String("subscription_id"), Value: value.String(s.SubscriptionID)},
		{Key: value.String("event_type"), Value: value.String(s.EventType)},
		{Key: value.String("arguments"), Value: args},
	})
}

func DecodeSubscribeRequest(payload []byte) (SubscribeRequest, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return SubscribeRequest{}, err
	}
	id, err := getString(m, "subscription_id")
	if err != nil {
		return SubscribeRequest{}, err
	}
	eventType, err := getString(m, "event_type")
	if err != nil {
		return SubscribeRequest{}, err
	}
	args, err := getMapping(m, "arguments")
	if err != nil {
		return SubscribeRequest{}, err
	}
	return SubscribeRequest{SubscriptionID: id, EventType: eventType, Arguments: args}, nil
}

// UnsubscribeRequest is the unsubscribe-request payload.
type UnsubscribeRequest struct {
	SubscriptionID string
}

func (u UnsubscribeRequest) Encode() ([]byte, error) {
	return value.Encode(value.Mapping{
		{Key: value.String("subscription_id"), Value: value.String(u.SubscriptionID)},
	})
}

func DecodeUnsubscribeRequest(payload []byte) (UnsubscribeRequest, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return UnsubscribeRequest{}, err
	}
	id, err := getString(m, "subscription_id")
	if err != nil {
		return UnsubscribeRequest{}, err
	}
	return UnsubscribeRequest{SubscriptionID: id}, nil
}

// SubscribeData is the subscribe-data payload.
type SubscribeData struct {
	SubscriptionID string
	Data           value.Value
}

func (d SubscribeData) Encode() ([]byte, error) {
	data := d.Data
	if data == nil {
		data = value.Null{}
	}
	return value.Encode(value.Mapping{
		{Key: value.String("subscription_id"), Value: value.String(d.SubscriptionID)},
		{Key: value.String("data"), Value: data},
	})
}

func DecodeSubscribeData(payload []byte) (SubscribeData, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return SubscribeData{}, err
	}
	id, err := getString(m, "subscription_id")
	if err != nil {
		return SubscribeData{}, err
	}
	data, ok := m.Get("data")
	if !ok {
		return SubscribeData{}, protoErr("missing field data")
	}
	return SubscribeData{SubscriptionID: id, Data: data}, nil
}

// SubscribeEnd is the subscribe-end payload.
type SubscribeEnd struct {
	SubscriptionID string
}

func (e SubscribeEnd) Encode() ([]byte, error) {
	return value.Encode(value.Mapping{
		{Key: value.String("subscription_id"), Value: value.String(e.SubscriptionID)},
	})
}

func DecodeSubscribeEnd(payload []byte) (SubscribeEnd, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return SubscribeEnd{}, err
	}
	id, err := getString(m, "subscription_id")
	if err != nil {
		return SubscribeEnd{}, err
	}
	return SubscribeEnd{SubscriptionID: id}, nil
}

// SubscribeError is the subscribe-error payload.
type SubscribeError struct {
	SubscriptionID string
	ErrorCode      wire.ErrorCode
	Message        string
}

func (e SubscribeError) Encode() ([]byte, error) {
	return value.Encode(value.Mapping{
		{Key: value.String("subscription_id"), Value: value.String(e.SubscriptionID)},
		{Key: value.String("error_code"), Value: value.NewIntFromInt64(int64(e.ErrorCode))},
		{Key: value.String("message"), Value: value.String(e.Message)},
	})
}

func DecodeSubscribeError(payload []byte) (SubscribeError, error) {
	m, err := decodeMapping(payload)
	if err != nil {
		return SubscribeError{}, err
	}
	id, err := getString(m, "subscription_id")
	if err != nil {
		return SubscribeError{}, err
	}
	code, err := getInt(m, "error_code")
	if err != nil {
		return SubscribeError{}, err
	}
	msg, err := getString(m, "message")
	if err != nil {
		return SubscribeError{}, err
	}
	return SubscribeError{SubscriptionID: id, ErrorCode: wire.ErrorCode(code), Message: msg}, nil
}

func protoErr(format string, args ...any) error {
	return fmt.Errorf("message: malformed payload: %s", fmt.Sprintf(format, args...))
}

func decodeMapping(payload []byte) (value.Mapping, error) {
	v, err := value.Decode(payload)
	if err != nil {
		return nil, err
	}
	m, ok := v.(value.Mapping)
	if !ok {
		return nil, protoErr("payload is not a mapping, got %T", v)
	}
	return m, nil
}

func getString(m value.Mapping, key string) (string, error) {
	v, ok := m.Get(key)
	if !ok {
		return "", protoErr("missing field %s", key)
	}
	s, ok := v.(value.String)
	if !ok {
		return "", protoErr("field %s is not a string", key)
	}
	return string(s), nil
}

func getBool(m value.Mapping, key string) (bool, error) {
	v, ok := m.Get(key)
	if !ok {
		return false, protoErr("missing field %s", key)
	}
	b, ok := v.(value.Bool)
	if !ok {
		return false, protoErr("field %s is not a bool", key)
	}
	return bool(b), nil
}

func getInt(m value.Mapping, key string) (int64, error) {
	v, ok := m.Get(key)
	if !ok {
		return 0, protoErr("missing field %s", key)
	}
	i, ok := v.(value.Int)
	if !ok {
		return 0, protoErr("field %s is not an int", key)
	}
	n, fits := i.Int64()
	if !fits {
		return 0, protoErr("field %s does not fit in int64", key)
	}
	return n, nil
}

func getMapping(m value.Mapping, key string) (value.Mapping, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, protoErr("missing field %s", key)
	}
	mv, ok := v.(value.Mapping)
	if !ok {
		return nil, protoErr("field %s is not a mapping", key)
	}
	return mv, nil
}

func getList(m value.Mapping, key string) ([]value.Value, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, protoErr("missing field %s", key)
	}
	l, ok := v.(value.List)
	if !ok {
		return nil, protoErr("field %s is not a list", key)
	}
	return []value.Value(l), nil
}
