package hooks

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	checkout "github.com/mintgate/checkout-go"
)

// SecretSigner produces gating payloads for password and promo-code hooks.
// The hook contract stores the address derived from the shared secret; the
// payload proves knowledge of the secret by signing the recipient address
// with the key derived from it. The same secret always derives the same key,
// so verification is a plain signer-recovery on chain.
type SecretSigner struct {
	key *ecdsa.PrivateKey
}

// NewSecretSigner derives the signing key from the shared secret.
func NewSecretSigner(secret string) (*SecretSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", checkout.ErrGatingFailed)
	}
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(secret)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrGatingFailed, err)
	}
	return &SecretSigner{key: key}, nil
}

// SignerAddress returns the address the hook contract must be configured
// with for this secret.
func (s *SecretSigner) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Payloads implements checkout.GatingProvider. Each payload is the 65-byte
// EIP-191 signature over the lowercase recipient address.
func (s *SecretSigner) Payloads(_ context.Context, recipients []common.Address) ([][]byte, error) {
	payloads := make([][]byte, len(recipients))
	for i, recipient := range recipients {
		message := []byte(strings.ToLower(recipient.Hex()))
		sig, err := crypto.Sign(accounts.TextHash(message), s.key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", checkout.ErrGatingFailed, err)
		}
		sig[64] += 27
		payloads[i] = sig
	}
	return payloads, nil
}
