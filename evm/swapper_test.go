package evm

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	checkout "github.com/mintgate/checkout-go"
)

type fakeRPCError struct {
	msg  string
	data interface{}
}

func (e *fakeRPCError) Error() string          { return e.msg }
func (e *fakeRPCError) ErrorData() interface{} { return e.data }

func TestWithSlippage(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{name: "round amount", in: 1000, want: 1010},
		{name: "floors remainder", in: 99, want: 99},
		{name: "one wei", in: 1, want: 1},
		{name: "zero", in: 0, want: 0},
		{name: "hundred", in: 100, want: 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WithSlippage(big.NewInt(tt.in))
			if got.Int64() != tt.want {
				t.Errorf("WithSlippage(%d) = %d, want %d", tt.in, got.Int64(), tt.want)
			}
		})
	}
}

func TestWithSlippageDoesNotMutateInput(t *testing.T) {
	in := big.NewInt(1000)
	WithSlippage(in)
	if in.Int64() != 1000 {
		t.Errorf("input mutated to %d", in.Int64())
	}
}

func TestRevertTag(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "swap failed",
			err:  &fakeRPCError{msg: "execution reverted", data: "0x" + hex.EncodeToString(selSwapFailed)},
			want: checkout.ErrSwapFailed,
		},
		{
			name: "lock call failed",
			err:  &fakeRPCError{msg: "execution reverted", data: "0x" + hex.EncodeToString(selLockCallFailed)},
			want: checkout.ErrLockCallFailed,
		},
		{
			name: "insufficient balance",
			err:  &fakeRPCError{msg: "execution reverted", data: "0x" + hex.EncodeToString(selInsufficientBalance)},
			want: checkout.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RevertTag(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("RevertTag() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevertTagPassthrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nil", err: nil},
		{name: "plain error", err: errors.New("connection refused")},
		{name: "no data", err: &fakeRPCError{msg: "execution reverted"}},
		{name: "unknown selector", err: &fakeRPCError{msg: "execution reverted", data: "0xdeadbeef"}},
		{name: "short data", err: &fakeRPCError{msg: "execution reverted", data: "0x01"}},
		{name: "not hex", err: &fakeRPCError{msg: "execution reverted", data: "0xzz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RevertTag(tt.err); !errors.Is(got, tt.err) && got != nil {
				t.Errorf("RevertTag() = %v, want original error back", got)
			}
		})
	}
}

func TestSwapAndCallCalldata(t *testing.T) {
	lock := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	router := common.HexToAddress("0x3333333333333333333333333333333333333333")

	calldata, err := SwapAndCallCalldata(lock, token, big.NewInt(1000), router, []byte{0xaa}, []byte{0xbb})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calldata) < 4 {
		t.Fatal("calldata too short")
	}

	wantSel := swapperABI.Methods["swapAndCall"].ID
	for i := range wantSel {
		if calldata[i] != wantSel[i] {
			t.Fatalf("selector = %x, want %x", calldata[:4], wantSel)
		}
	}
}
