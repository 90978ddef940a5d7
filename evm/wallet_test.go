package evm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	checkout "github.com/mintgate/checkout-go"
)

// Standard BIP39 test vector mnemonic.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewLocalWallet(t *testing.T) {
	tests := []struct {
		name    string
		opts    []WalletOption
		wantErr error
	}{
		{
			name: "valid private key",
			opts: []WalletOption{
				WithPrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
				WithChainID(1),
			},
		},
		{
			name: "key without 0x prefix",
			opts: []WalletOption{
				WithPrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
				WithChainID(1),
			},
		},
		{
			name: "missing key",
			opts: []WalletOption{
				WithChainID(1),
			},
			wantErr: checkout.ErrInvalidKey,
		},
		{
			name: "malformed key",
			opts: []WalletOption{
				WithPrivateKey("not-a-key"),
				WithChainID(1),
			},
			wantErr: checkout.ErrInvalidKey,
		},
		{
			name: "missing chain id",
			opts: []WalletOption{
				WithPrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
			},
			wantErr: checkout.ErrInvalidConfig,
		},
		{
			name: "invalid mnemonic",
			opts: []WalletOption{
				WithMnemonic("not a valid mnemonic phrase", 0),
				WithChainID(1),
			},
			wantErr: checkout.ErrInvalidMnemonic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewLocalWallet(tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.Address() == (common.Address{}) {
				t.Error("wallet has zero address")
			}
		})
	}
}

func TestWithMnemonicDerivation(t *testing.T) {
	w, err := NewLocalWallet(WithMnemonic(testMnemonic, 0), WithChainID(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First account of the standard test mnemonic at m/44'/60'/0'/0/0.
	want := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	if w.Address().Hex() != want {
		t.Errorf("address = %s, want %s", w.Address().Hex(), want)
	}
}

func TestWithMnemonicDistinctIndexes(t *testing.T) {
	w0, err := NewLocalWallet(WithMnemonic(testMnemonic, 0), WithChainID(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w1, err := NewLocalWallet(WithMnemonic(testMnemonic, 1), WithChainID(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w0.Address() == w1.Address() {
		t.Error("indexes 0 and 1 derived the same address")
	}
}

func TestSignMessageRecoverable(t *testing.T) {
	w, err := NewLocalWallet(
		WithPrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
		WithChainID(1),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	message := []byte("I agree to the membership terms")
	sig, err := w.SignMessage(context.Background(), message)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("signature V = %d, want 27 or 28", sig[64])
	}

	recovered := make([]byte, 65)
	copy(recovered, sig)
	recovered[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message), recovered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != w.Address() {
		t.Errorf("recovered %s, want %s", crypto.PubkeyToAddress(*pub), w.Address())
	}
}

func TestSignMessageDeterministicPerMessage(t *testing.T) {
	w, err := NewLocalWallet(
		WithPrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
		WithChainID(1),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := w.SignMessage(context.Background(), []byte("one"))
	b, _ := w.SignMessage(context.Background(), []byte("two"))
	if bytes.Equal(a, b) {
		t.Error("different messages produced the same signature")
	}
}

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "eip-1193 code", err: errors.New("rpc error: code 4001"), want: true},
		{name: "ethers marker", err: errors.New("ACTION_REJECTED: user denied"), want: true},
		{name: "plain text", err: errors.New("User rejected the request"), want: true},
		{name: "other error", err: errors.New("insufficient funds for gas"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserRejection(tt.err); got != tt.want {
				t.Errorf("IsUserRejection() = %v, want %v", got, tt.want)
			}
		})
	}
}
