package channel

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	checkout "github.com/mintgate/checkout-go"
)

func TestEncodeDecodeMessage(t *testing.T) {
	msg, err := newMessage(KindUserInfo, checkout.UserInfo{Address: "0xabc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Kind != KindUserInfo {
		t.Errorf("kind = %s, want %s", decoded.Kind, KindUserInfo)
	}

	var info checkout.UserInfo
	if err := json.Unmarshal(decoded.Payload, &info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Address != "0xabc" {
		t.Errorf("address = %s, want 0xabc", info.Address)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "!!not-base64!!"},
		{name: "not json", encoded: "bm90LWpzb24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMessage(tt.encoded); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEmitQueuesUntilHandshake(t *testing.T) {
	c := New()

	if err := c.EmitUserInfo(checkout.UserInfo{Address: "0x1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.EmitTransactionInfo(checkout.TransactionInfo{Hash: "0x2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.EmitCloseModal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var delivered []Message
	err := c.OnHandshake(func(encoded string) error {
		msg, err := DecodeMessage(encoded)
		if err != nil {
			return err
		}
		delivered = append(delivered, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []MessageKind{KindUserInfo, KindTransactionInfo, KindCloseModal}
	if len(delivered) != len(want) {
		t.Fatalf("drained %d messages, want %d", len(delivered), len(want))
	}
	for i, kind := range want {
		if delivered[i].Kind != kind {
			t.Errorf("message %d kind = %s, want %s (FIFO order)", i, delivered[i].Kind, kind)
		}
	}
}

func TestEmitAfterHandshakeIsDirect(t *testing.T) {
	var count int
	c := New()
	if err := c.OnHandshake(func(string) error { count++; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.EmitCloseModal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("delivered %d messages, want 1", count)
	}
}

func TestEmitDuringHandshakeSwap(t *testing.T) {
	c := New(WithCapacity(256))

	var delivered int64
	sender := func(string) error {
		atomic.AddInt64(&delivered, 1)
		return nil
	}
	if err := c.OnHandshake(sender); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-handshakes race the emitters; every emit must land on whichever
	// sender was installed when the lock was held.
	const emits = 64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < emits; i++ {
			if err := c.EmitCloseModal(); err != nil {
				t.Errorf("emit %d: %v", i, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 8; i++ {
			if err := c.OnHandshake(sender); err != nil {
				t.Errorf("handshake %d: %v", i, err)
				return
			}
		}
	}()
	wg.Wait()

	if got := atomic.LoadInt64(&delivered); got != emits {
		t.Errorf("delivered %d messages, want %d", got, emits)
	}
}

func TestOutgoingBacklog(t *testing.T) {
	c := New(WithCapacity(2))

	if err := c.EmitCloseModal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.EmitCloseModal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.EmitCloseModal(); !errors.Is(err, checkout.ErrChannelBacklog) {
		t.Errorf("error = %v, want %v", err, checkout.ErrChannelBacklog)
	}
}

func TestReceiveQueuesUntilProviderReady(t *testing.T) {
	c := New()

	encoded, err := EncodeMessage(Message{Kind: KindMethodCall})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Receive(encoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var handled []Message
	err = c.OnProviderReady(func(msg Message) error {
		handled = append(handled, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(handled) != 1 || handled[0].Kind != KindMethodCall {
		t.Fatalf("handled = %v, want the queued call", handled)
	}

	// Later calls dispatch directly.
	if err := c.Receive(encoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(handled) != 2 {
		t.Errorf("handled %d calls, want 2", len(handled))
	}
}

func TestIncomingBacklog(t *testing.T) {
	c := New(WithCapacity(1))

	encoded, err := EncodeMessage(Message{Kind: KindMethodCall})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Receive(encoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Receive(encoded); !errors.Is(err, checkout.ErrChannelBacklog) {
		t.Errorf("error = %v, want %v", err, checkout.ErrChannelBacklog)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	c := New(WithCapacity(1))

	// Fill the outgoing queue; the incoming queue must stay available.
	if err := c.EmitCloseModal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := EncodeMessage(Message{Kind: KindMethodCall})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Receive(encoded); err != nil {
		t.Errorf("incoming queue rejected a call while only outgoing was full: %v", err)
	}
}
