package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	checkout "github.com/mintgate/checkout-go"
)

// ChainBackend is the slice of the Ethereum RPC client needed to submit
// transactions. *ethclient.Client satisfies it.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxRequest describes a transaction to sign and submit.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Wallet signs personal messages and submits transactions on behalf of the
// connected account.
type Wallet interface {
	Address() common.Address
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// LocalWallet is an in-process Wallet backed by a raw ECDSA key.
type LocalWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	backend    ChainBackend
}

// WalletOption configures a LocalWallet.
type WalletOption func(*LocalWallet) error

// NewLocalWallet creates a wallet with the given options.
func NewLocalWallet(opts ...WalletOption) (*LocalWallet, error) {
	w := &LocalWallet{}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	if w.privateKey == nil {
		return nil, checkout.ErrInvalidKey
	}
	if w.chainID == nil || w.chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing chain id", checkout.ErrInvalidConfig)
	}

	w.address = crypto.PubkeyToAddress(w.privateKey.PublicKey)

	return w, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) WalletOption {
	return func(w *LocalWallet) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")

		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return checkout.ErrInvalidKey
		}

		w.privateKey = privateKey
		return nil
	}
}

// WithKeystore loads the private key from an encrypted keystore file.
func WithKeystore(keystorePath, password string) WalletOption {
	return func(w *LocalWallet) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", checkout.ErrInvalidKeystore, err)
		}

		var keyJSON struct {
			Crypto keystore.CryptoJSON `json:"crypto"`
		}
		if err := json.Unmarshal(data, &keyJSON); err != nil {
			return fmt.Errorf("%w: invalid JSON format", checkout.ErrInvalidKeystore)
		}

		privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
		if err != nil {
			return fmt.Errorf("%w: decryption failed", checkout.ErrInvalidKeystore)
		}

		privateKey, err := crypto.ToECDSA(privateKeyBytes)
		if err != nil {
			return fmt.Errorf("%w: invalid private key", checkout.ErrInvalidKeystore)
		}

		w.privateKey = privateKey
		return nil
	}
}

// WithMnemonic derives the private key from a BIP39 mnemonic phrase.
// Derivation path: m/44'/60'/0'/0/{accountIndex}
func WithMnemonic(mnemonic string, accountIndex uint32) WalletOption {
	return func(w *LocalWallet) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return checkout.ErrInvalidMnemonic
		}

		seed := bip39.NewSeed(mnemonic, "")

		privateKey, err := deriveEthereumKey(seed, accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", checkout.ErrInvalidMnemonic, err)
		}

		w.privateKey = privateKey
		return nil
	}
}

// WithChainID sets the chain the wallet signs for.
func WithChainID(chainID int64) WalletOption {
	return func(w *LocalWallet) error {
		w.chainID = big.NewInt(chainID)
		return nil
	}
}

// WithBackend sets the RPC backend used for nonce, gas and submission.
func WithBackend(backend ChainBackend) WalletOption {
	return func(w *LocalWallet) error {
		w.backend = backend
		return nil
	}
}

// Address returns the wallet's Ethereum address.
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// SignMessage signs message with the EIP-191 personal-message prefix and
// returns the 65-byte signature with V in the 27/28 convention.
func (w *LocalWallet) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.privateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SendTransaction signs and submits req, returning the transaction hash.
func (w *LocalWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if w.backend == nil {
		return common.Hash{}, fmt.Errorf("%w: wallet has no backend", checkout.ErrInvalidConfig)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, err
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = w.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, RevertTag(err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    req.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.privateKey)
	if err != nil {
		return common.Hash{}, err
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, RevertTag(err)
	}

	return signed.Hash(), nil
}

// deriveEthereumKey derives an Ethereum private key from a BIP39 seed
// following the BIP44 path m/44'/60'/0'/0/{index}.
func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	key, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(bip32.FirstHardenedChild + 60)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(0)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(index)
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(key.Key)
}

// IsUserRejection reports whether err came from the account holder declining
// a wallet prompt. Injected wallets surface EIP-1193 code 4001 or the
// ethers.js ACTION_REJECTED marker.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "4001") ||
		strings.Contains(msg, "ACTION_REJECTED") ||
		strings.Contains(strings.ToLower(msg), "user rejected")
}
