package message

import (
	"testing"

	"htcp/value"
	"htcp/wire"
)

func TestHandshakeResponseRoundTrip(t *testing.T) {
	h := HandshakeResponse{ServerName: "htcpd/1.0", Transactions: []string{"echo", "add"}}
	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHandshakeResponse(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ServerName != h.ServerName || len(got.Transactions) != 2 || got.Transactions[1] != "add" {
		t.Fatalf("got %#v", got)
	}
}

func TestTransactionCallRoundTrip(t *testing.T) {
	c := TransactionCall{
		Transaction: "echo",
		Arguments:   value.Mapping{{Key: value.String("msg"), Value: value.String("hi")}},
	}
	enc, err := c.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTransactionCall(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Transaction != "echo" {
		t.Fatalf("transaction = %q", got.Transaction)
	}
	v, ok := got.Arguments.Get("msg")
	if !ok || !value.Equal(v, value.String("hi")) {
		t.Fatalf("arguments[msg] = %#v", v)
	}
}

func TestTransactionResultRoundTrip(t *testing.T) {
	r := TransactionResult{Success: true, Result: value.NewIntFromInt64(42), ErrorCode: wire.ErrorCodeSuccess}
	enc, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTransactionResult(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || !value.Equal(got.Result, value.NewIntFromInt64(42)) {
		t.Fatalf("got %#v", got)
	}
}

func TestTransactionResultErrorRoundTrip(t *testing.T) {
	r := TransactionResult{Success: false, ErrorCode: wire.ErrorCodeUnknownTransaction, ErrorMessage: "no such transaction"}
	enc, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTransactionResult(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Success || got.ErrorCode != wire.ErrorCodeUnknownTransaction || got.ErrorMessage != "no such transaction" {
		t.Fatalf("got %#v", got)
	}
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	s := SubscribeRequest{SubscriptionID: "sub-1", EventType: "ticks", Arguments: value.Mapping{}}
	enc, err := s.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSubscribeRequest(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubscriptionID != "sub-1" || got.EventType != "ticks" {
		t.Fatalf("got %#v", got)
	}
}

func TestSubscribeDataRoundTrip(t *testing.T) {
	d := SubscribeData{SubscriptionID: "sub-1", Data: value.String("tick")}
	enc, err := d.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSubscribeData(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !value.Equal(got.Data, value.String("tick")) {
		t.Fatalf("data = %#v", got.Data)
	}
}

func TestSubscribeEndAndErrorRoundTrip(t *testing.T) {
	e := SubscribeEnd{SubscriptionID: "sub-2"}
	enc, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSubscribeEnd(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubscriptionID != "sub-2" {
		t.Fatalf("got %#v", got)
	}

	se := SubscribeError{SubscriptionID: "sub-2", ErrorCode: wire.ErrorCodeExecutionError, Message: "boom"}
	enc2, err := se.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gotErr, err := DecodeSubscribeError(enc2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotErr.ErrorCode != wire.ErrorCodeExecutionError || gotErr.Message != "boom" {
		t.Fatalf("got %#v", gotErr)
	}
}

func TestUnsubscribeRequestRoundTrip(t *testing.T) {
	u := UnsubscribeRequest{SubscriptionID: "sub-3"}
	enc, err := u.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeUnsubscribeRequest(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubscriptionID != "sub-3" {
		t.Fatalf("got %#v", got)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeTransactionCall([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding garbage payload")
	}
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	enc, err := value.Encode(value.String("not a mapping"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeTransactionCall(enc); err == nil {
		t.Fatal("expected error decoding non-mapping payload")
	}
}
