package hooks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	checkout "github.com/mintgate/checkout-go"
)

func TestNewSecretSignerEmptySecret(t *testing.T) {
	if _, err := NewSecretSigner(""); !errors.Is(err, checkout.ErrGatingFailed) {
		t.Errorf("error = %v, want %v", err, checkout.ErrGatingFailed)
	}
}

func TestSecretSignerDeterministic(t *testing.T) {
	a, err := NewSecretSigner("open sesame")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewSecretSigner("open sesame")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.SignerAddress() != b.SignerAddress() {
		t.Errorf("same secret derived %s and %s", a.SignerAddress(), b.SignerAddress())
	}

	c, err := NewSecretSigner("another secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.SignerAddress() == c.SignerAddress() {
		t.Error("different secrets derived the same address")
	}
}

func TestSecretSignerPayloadsRecoverable(t *testing.T) {
	s, err := NewSecretSigner("open sesame")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recipients := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}

	payloads, err := s.Payloads(context.Background(), recipients)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payloads) != len(recipients) {
		t.Fatalf("got %d payloads for %d recipients", len(payloads), len(recipients))
	}

	for i, sig := range payloads {
		if len(sig) != 65 {
			t.Fatalf("payload %d length = %d, want 65", i, len(sig))
		}

		recovered := make([]byte, 65)
		copy(recovered, sig)
		recovered[64] -= 27

		message := []byte(strings.ToLower(recipients[i].Hex()))
		pub, err := crypto.SigToPub(accounts.TextHash(message), recovered)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if crypto.PubkeyToAddress(*pub) != s.SignerAddress() {
			t.Errorf("payload %d recovers to %s, want %s", i, crypto.PubkeyToAddress(*pub), s.SignerAddress())
		}
	}

	if bytes.Equal(payloads[0], payloads[1]) {
		t.Error("distinct recipients produced identical payloads")
	}
}
