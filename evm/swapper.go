package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	checkout "github.com/mintgate/checkout-go"
)

// swapPurchaserABI is the purchaser contract that atomically pulls the input
// token, executes the swap through the given router, and calls the lock.
const swapPurchaserABI = `[
	{"type":"function","name":"swapAndCall","stateMutability":"payable","inputs":[{"name":"_lock","type":"address"},{"name":"_srcToken","type":"address"},{"name":"_amountInMax","type":"uint256"},{"name":"_swapRouter","type":"address"},{"name":"_swapCalldata","type":"bytes"},{"name":"_callData","type":"bytes"}],"outputs":[]}
]`

var swapperABI = mustParseABI(swapPurchaserABI)

// Tagged revert selectors of the purchaser contract.
var (
	selSwapFailed          = crypto.Keccak256([]byte("SwapFailed()"))[:4]
	selLockCallFailed      = crypto.Keccak256([]byte("LockCallFailed()"))[:4]
	selInsufficientBalance = crypto.Keccak256([]byte("InsufficientBalance()"))[:4]
)

// SwapAndCallCalldata encodes the purchaser's swapAndCall invocation.
func SwapAndCallCalldata(lock, srcToken common.Address, amountInMax *big.Int, swapRouter common.Address, swapCalldata, lockCalldata []byte) ([]byte, error) {
	return swapperABI.Pack("swapAndCall", lock, srcToken, amountInMax, swapRouter, swapCalldata, lockCalldata)
}

// WithSlippage applies the 1% buffer to a quoted maximum input amount:
// exactly amountInMax * 101 / 100 with integer floor division.
func WithSlippage(amountInMax *big.Int) *big.Int {
	buffered := new(big.Int).Mul(amountInMax, big.NewInt(101))
	return buffered.Div(buffered, big.NewInt(100))
}

// dataError is the revert-carrying error surface of go-ethereum's RPC client.
type dataError interface {
	error
	ErrorData() interface{}
}

// RevertTag maps a submission error onto the purchaser's tagged revert
// sentinels, when the revert data carries one of the known selectors. Errors
// without recognizable revert data are returned unchanged.
func RevertTag(err error) error {
	if err == nil {
		return nil
	}
	data, ok := revertData(err)
	if !ok || len(data) < 4 {
		return err
	}
	switch {
	case equalSelector(data, selSwapFailed):
		return fmt.Errorf("%w: %v", checkout.ErrSwapFailed, err)
	case equalSelector(data, selLockCallFailed):
		return fmt.Errorf("%w: %v", checkout.ErrLockCallFailed, err)
	case equalSelector(data, selInsufficientBalance):
		return fmt.Errorf("%w: %v", checkout.ErrInsufficientBalance, err)
	}
	return err
}

func equalSelector(data, sel []byte) bool {
	for i := range sel {
		if data[i] != sel[i] {
			return false
		}
	}
	return true
}

func revertData(err error) ([]byte, bool) {
	de, ok := err.(dataError)
	if !ok {
		return nil, false
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	raw = strings.TrimPrefix(raw, "0x")
	data, decodeErr := hex.DecodeString(raw)
	if decodeErr != nil {
		return nil, false
	}
	return data, true
}
