package checkout

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// HookResolver determines the gating mechanism guarding a lock's purchases.
type HookResolver interface {
	// Resolve inspects the lock's on-chain purchase hook and the paywall
	// configuration and returns the gating kind to enforce.
	Resolve(ctx context.Context, lock *Lock, config *PaywallConfig) (HookKind, error)
}

// PricingService resolves per-recipient price quotes and purchase data.
type PricingService interface {
	// Prices returns one quote per recipient, resolved against the lock's
	// settlement currency with the given per-recipient referrers and purchase
	// data. Gating hooks compute the price from the data, so quotes issued
	// without it would miss discounts or revert.
	Prices(ctx context.Context, lock *Lock, recipients []Recipient, referrers []common.Address, data [][]byte) (*PricingResult, error)

	// PurchaseData assembles the per-recipient opaque purchase payloads.
	// A configured data-builder URL takes precedence over gating data.
	PurchaseData(ctx context.Context, req DataRequest) ([][]byte, error)
}

// DataRequest is the input to PricingService.PurchaseData.
type DataRequest struct {
	Lock       *Lock
	Recipients []Recipient

	// DataBuilder is the external builder URL, empty when none is configured.
	DataBuilder string

	// Hook is the resolved gating kind for the lock.
	Hook HookKind

	// GatingData is the per-recipient payloads already produced by the gating
	// step, used when no data builder is configured.
	GatingData [][]byte
}

// Rail executes a purchase over one payment method and returns the resulting
// transaction hash. An error means nothing was durably submitted.
type Rail interface {
	// Supports reports whether the rail handles the given payment method.
	Supports(method PaymentMethod) bool

	// Execute runs the purchase to the point of submission.
	Execute(ctx context.Context, req PurchaseRequest) (string, error)
}

// TransactionWatcher tracks a submitted transaction to a terminal status.
type TransactionWatcher interface {
	// Wait blocks until the transaction reaches enough confirmations or
	// fails, returning the terminal status.
	Wait(ctx context.Context, network uint64, hash common.Hash) (TransactionStatus, error)
}

// PageChannel is the bridge to the embedding page.
type PageChannel interface {
	EmitUserInfo(info UserInfo) error
	EmitTransactionInfo(info TransactionInfo) error
	EmitCloseModal() error
}

// GatingProvider produces the per-recipient gating payloads for one gating
// mechanism (password, promo code, captcha, guild, allow-list).
type GatingProvider interface {
	// Payloads returns one opaque payload per recipient, in order.
	Payloads(ctx context.Context, recipients []common.Address) ([][]byte, error)
}

// MessageSigner signs the merchant's message-to-sign with the connected
// account. evm.LocalWallet satisfies it.
type MessageSigner interface {
	Address() common.Address
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}
