// Package evm holds the on-chain boundary of the checkout core: calldata
// builders and read calls for PublicLock contracts, the swap-purchaser
// contract, and the wallet submission interface.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// publicLockABI covers the calls the checkout core issues against a lock.
const publicLockABI = `[
	{"type":"function","name":"purchasePriceFor","stateMutability":"view","inputs":[{"name":"_recipient","type":"address"},{"name":"_referrer","type":"address"},{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"purchase","stateMutability":"payable","inputs":[{"name":"_values","type":"uint256[]"},{"name":"_recipients","type":"address[]"},{"name":"_referrers","type":"address[]"},{"name":"_keyManagers","type":"address[]"},{"name":"_data","type":"bytes[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"extend","stateMutability":"payable","inputs":[{"name":"_value","type":"uint256"},{"name":"_tokenId","type":"uint256"},{"name":"_referrer","type":"address"},{"name":"_data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getHasValidKey","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"keyExpirationTimestampFor","stateMutability":"view","inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"},{"name":"_index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"publicLockVersion","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"uint16"}]},
	{"type":"function","name":"onKeyPurchaseHook","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"tokenAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"keyPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	lockABI  = mustParseABI(publicLockABI)
	tokenABI = mustParseABI(erc20ABI)

	// MaxUint256 marks non-expiring keys and indefinite approvals.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainReader is the read-only chain surface a Lock needs. *ethclient.Client
// satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Lock is a client for one PublicLock deployment.
type Lock struct {
	Address common.Address
	Network uint64

	client ChainReader
}

// NewLock returns a lock client reading through the given chain backend.
func NewLock(address common.Address, network uint64, client ChainReader) *Lock {
	return &Lock{Address: address, Network: network, client: client}
}

func (l *Lock) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := lockABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &l.Address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	res, err := lockABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

// PurchasePriceFor quotes the purchase price for one recipient. The call
// reverts for recipients the lock will not sell to.
func (l *Lock) PurchasePriceFor(ctx context.Context, recipient, referrer common.Address, data []byte) (*big.Int, error) {
	if data == nil {
		data = []byte{}
	}
	res, err := l.call(ctx, "purchasePriceFor", recipient, referrer, data)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// HasValidKey reports whether the owner holds an unexpired key.
func (l *Lock) HasValidKey(ctx context.Context, owner common.Address) (bool, error) {
	res, err := l.call(ctx, "getHasValidKey", owner)
	if err != nil {
		return false, err
	}
	return res[0].(bool), nil
}

// TokenIDFor returns the owner's first key token ID.
func (l *Lock) TokenIDFor(ctx context.Context, owner common.Address) (*big.Int, error) {
	res, err := l.call(ctx, "tokenOfOwnerByIndex", owner, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// KeyExpiration returns the expiration timestamp of a key. Non-expiring keys
// report MaxUint256.
func (l *Lock) KeyExpiration(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	res, err := l.call(ctx, "keyExpirationTimestampFor", tokenID)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// Version returns the lock's publicLockVersion.
func (l *Lock) Version(ctx context.Context) (uint16, error) {
	res, err := l.call(ctx, "publicLockVersion")
	if err != nil {
		return 0, err
	}
	return res[0].(uint16), nil
}

// PurchaseHook returns the configured onKeyPurchaseHook address, zero when
// the lock has none.
func (l *Lock) PurchaseHook(ctx context.Context) (common.Address, error) {
	res, err := l.call(ctx, "onKeyPurchaseHook")
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

// CurrencyAddress returns the lock's settlement token, zero for native.
func (l *Lock) CurrencyAddress(ctx context.Context) (common.Address, error) {
	res, err := l.call(ctx, "tokenAddress")
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

// KeyPrice returns the listed per-key price.
func (l *Lock) KeyPrice(ctx context.Context) (*big.Int, error) {
	res, err := l.call(ctx, "keyPrice")
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// PurchaseCalldata encodes a batched purchase call. All slices must share one
// length; nil data entries are encoded as empty bytes.
func PurchaseCalldata(prices []*big.Int, recipients, referrers, keyManagers []common.Address, data [][]byte) ([]byte, error) {
	n := len(recipients)
	if len(prices) != n || len(referrers) != n || len(keyManagers) != n || len(data) != n {
		return nil, fmt.Errorf("purchase argument lengths differ (recipients=%d)", n)
	}
	packed := make([][]byte, n)
	for i, d := range data {
		if d == nil {
			d = []byte{}
		}
		packed[i] = d
	}
	return lockABI.Pack("purchase", prices, recipients, referrers, keyManagers, packed)
}

// ExtendCalldata encodes a renewal call for an existing key.
func ExtendCalldata(price, tokenID *big.Int, referrer common.Address, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	return lockABI.Pack("extend", price, tokenID, referrer, data)
}

// ApproveCalldata encodes an ERC-20 approval for the lock to pull settlement
// tokens.
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("approve", spender, amount)
}

// PurchaseSelector returns the 4-byte selector of the batched purchase call.
func PurchaseSelector() []byte {
	return lockABI.Methods["purchase"].ID
}

// ExtendSelector returns the 4-byte selector of the extend call.
func ExtendSelector() []byte {
	return lockABI.Methods["extend"].ID
}
