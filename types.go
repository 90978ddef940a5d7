package checkout

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// HookKind classifies the gating mechanism attached to a lock's purchase hook.
type HookKind string

const (
	HookNone      HookKind = "none"
	HookPassword  HookKind = "password"
	HookPromoCode HookKind = "promocode"
	HookCaptcha   HookKind = "captcha"
	HookGuild     HookKind = "guild"
	HookAllowList HookKind = "allowlist"
	HookGitcoin   HookKind = "gitcoin"
)

// TransactionStatus is the lifecycle of a submitted purchase transaction.
// ERROR and FINISHED are terminal.
type TransactionStatus string

const (
	StatusError      TransactionStatus = "ERROR"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusFinished   TransactionStatus = "FINISHED"
)

// Transaction is the mint record mutated after payment submission.
type Transaction struct {
	// Status is the current lifecycle stage.
	Status TransactionStatus `json:"status"`

	// Hash is the on-chain transaction hash, if one was submitted.
	Hash string `json:"transactionHash,omitempty"`

	// Network is the chain ID the transaction was submitted on.
	Network uint64 `json:"network,omitempty"`
}

// Recipient is one key recipient in a purchase, optionally paired with a
// key-manager delegate and free-form metadata.
type Recipient struct {
	Address    common.Address
	KeyManager *common.Address
	Metadata   map[string]string
}

// FiatPricing is the card-rail pricing breakdown for a lock, in USD.
type FiatPricing struct {
	// CreditCardEnabled reports whether the card rail is available for the lock.
	CreditCardEnabled bool

	// KeyPrice is the base membership price.
	KeyPrice decimal.Decimal

	// ServiceFee is the protocol service fee.
	ServiceFee decimal.Decimal

	// ProcessingFee is the card-processor fee.
	ProcessingFee decimal.Decimal
}

// Total returns the full fiat amount a card payment must capture.
func (f FiatPricing) Total() decimal.Decimal {
	return f.KeyPrice.Add(f.ServiceFee).Add(f.ProcessingFee)
}

// Lock is a purchasable membership contract enriched with live chain data
// for the connected account.
type Lock struct {
	// Address is the lock contract address.
	Address common.Address

	// Network is the chain ID the lock is deployed on.
	Network uint64

	// Name is the on-chain lock name.
	Name string

	// KeyPrice is the listed price per key in the lock's settlement currency,
	// in atomic units.
	KeyPrice *big.Int

	// CurrencyAddress is the ERC-20 settlement token, or the zero address for
	// the chain's native currency.
	CurrencyAddress common.Address

	// CurrencySymbol is the settlement token symbol (e.g. "USDC").
	CurrencySymbol string

	// CurrencyDecimals is the settlement token's decimal count.
	CurrencyDecimals int

	// Version is the lock's publicLockVersion.
	Version uint16

	// HookAddress is the configured onKeyPurchaseHook, or zero when none.
	HookAddress common.Address

	// IsSoldOut reports whether the lock has no keys left to sell.
	IsSoldOut bool

	// FiatPricing is present when the lock supports card payments.
	FiatPricing FiatPricing
}

// MessageSignature is the result of signing the merchant's message-to-sign.
// The signing address must equal the connected account.
type MessageSignature struct {
	Address   common.Address
	Signature []byte
}

// SwapRoute is the resolved swap path for a swap-and-purchase payment.
type SwapRoute struct {
	// TokenIn is the buyer-supplied input token, or the zero address for the
	// chain's native currency.
	TokenIn common.Address

	// TokenInSymbol is the input token symbol.
	TokenInSymbol string

	// TokenInDecimals is the input token's decimal count.
	TokenInDecimals int

	// SwapRouter is the router contract the purchaser will delegate the swap to.
	SwapRouter common.Address

	// SwapCalldata is the opaque router calldata from the routing service.
	SwapCalldata []byte

	// AmountInMax is the quoted maximum input amount, before the slippage
	// buffer is applied.
	AmountInMax *big.Int

	// Value is the native value to attach to the transaction, if the input
	// token is the native currency.
	Value *big.Int
}

// PaymentMethod is the tagged union of payment rails. Exactly one concrete
// variant is selected per purchase; rail-specific data lives on the variant
// rather than on optional context fields.
type PaymentMethod interface {
	// Method returns the rail identifier ("crypto", "card", "claim",
	// "swap_and_purchase").
	Method() string
}

// PayCrypto is a direct on-chain purchase or renewal from the buyer's wallet.
type PayCrypto struct{}

// PayCard is an off-chain card capture through the payment-intent service.
type PayCard struct {
	// CardID is the stored payment method to charge.
	CardID string
}

// PayClaim is a gasless signed airdrop claim for zero-price memberships.
type PayClaim struct{}

// PaySwap is a swap-then-purchase routed through the purchaser contract.
type PaySwap struct {
	Route SwapRoute
}

func (PayCrypto) Method() string { return "crypto" }
func (PayCard) Method() string   { return "card" }
func (PayClaim) Method() string  { return "claim" }
func (PaySwap) Method() string   { return "swap_and_purchase" }

// PriceQuote is the resolved purchase price for a single recipient.
type PriceQuote struct {
	Amount   *big.Int
	Decimals int
	Symbol   string
}

// PricingResult is the per-recipient quote set plus the summed total.
type PricingResult struct {
	Quotes []PriceQuote
	Total  *big.Int
}

// PurchaseRequest is the context shape consumed by every payment rail.
type PurchaseRequest struct {
	Lock       Lock
	Method     PaymentMethod
	Recipients []Recipient

	// Referrers is the per-recipient referral credit list, same length as
	// Recipients.
	Referrers []common.Address

	// Data is the per-recipient opaque purchase data, same length as
	// Recipients.
	Data [][]byte

	// Pricing is the resolved per-recipient pricing.
	Pricing PricingResult

	// RecurringCount is the number of renewals to pre-approve; zero means no
	// recurring payments.
	RecurringCount int

	// RecurringForever requests an indefinite approval instead of a counted one.
	RecurringForever bool

	// TotalApproval overrides the computed ERC-20 approval amount when set.
	TotalApproval *big.Int
}

// UserInfo is emitted to the embedding page once a purchase succeeds.
type UserInfo struct {
	Address       string `json:"address"`
	SignedMessage string `json:"signedMessage,omitempty"`
}

// TransactionInfo is emitted to the embedding page for a submitted purchase.
type TransactionInfo struct {
	Hash string `json:"hash"`
	Lock string `json:"lock"`
}
