package checkout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// PaywallConfig is the merchant-supplied checkout configuration. It is
// immutable for the session except through an explicit reconfiguration event.
type PaywallConfig struct {
	// Title is the merchant-facing checkout title.
	Title string `json:"title,omitempty"`

	// Locks declares the purchasable locks, keyed by contract address.
	Locks map[string]LockConfig `json:"locks" validate:"required,min=1,dive"`

	// Referrer is the global referral address, credited on every purchase
	// unless overridden per lock. Defaults to each recipient when empty.
	Referrer string `json:"referrer,omitempty" validate:"omitempty,eth_addr"`

	// MessageToSign, when set, requires the buyer to sign it before payment.
	MessageToSign string `json:"messageToSign,omitempty"`

	// Pessimistic, when true, waits for chain confirmation before reporting
	// success; otherwise submission alone is treated as success.
	Pessimistic bool `json:"pessimistic,omitempty"`

	// Password, Promo and Captcha are the static gating flags used when a
	// lock's hook address is not in the registry. Precedence is
	// password > captcha > promocode.
	Password bool `json:"password,omitempty"`
	Promo    bool `json:"promo,omitempty"`
	Captcha  bool `json:"captcha,omitempty"`

	// Guild requires guild-membership proofs for every recipient.
	Guild bool `json:"guild,omitempty"`

	// DataBuilder is an external endpoint that assembles per-recipient
	// purchase data. When set it takes precedence over gating-flow output.
	DataBuilder string `json:"dataBuilder,omitempty" validate:"omitempty,url"`

	// RecurringPayments is the renewal pre-approval policy: a renewal count,
	// or "forever" for an indefinite approval.
	RecurringPayments string `json:"recurringPayments,omitempty"`

	// MinRecipients and MaxRecipients bound the quantity step.
	MinRecipients int `json:"minRecipients,omitempty" validate:"min=0"`
	MaxRecipients int `json:"maxRecipients,omitempty" validate:"min=0"`

	// SkipQuantity and SkipRecipient are global step-skipping defaults,
	// overridable per lock.
	SkipQuantity  bool `json:"skipQuantity,omitempty"`
	SkipRecipient bool `json:"skipRecipient,omitempty"`
}

// LockConfig is the per-lock slice of the paywall configuration.
type LockConfig struct {
	// Network is the chain ID the lock is deployed on.
	Network uint64 `json:"network" validate:"required"`

	// Name overrides the on-chain lock name for display.
	Name string `json:"name,omitempty"`

	// SkipQuantity and SkipRecipient override the global defaults when set.
	SkipQuantity  *bool `json:"skipQuantity,omitempty"`
	SkipRecipient *bool `json:"skipRecipient,omitempty"`

	// DataBuilder overrides the global data-builder endpoint when set.
	DataBuilder string `json:"dataBuilder,omitempty" validate:"omitempty,url"`

	// Referrer overrides the global referral address when set.
	Referrer string `json:"referrer,omitempty" validate:"omitempty,eth_addr"`

	// RecurringPayments overrides the global renewal policy when set.
	RecurringPayments string `json:"recurringPayments,omitempty"`
}

var validate = validator.New()

// Validate checks the configuration shape: at least one lock, well-formed
// addresses, coherent recipient bounds and a parseable recurring policy.
func (c *PaywallConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for addr := range c.Locks {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: lock key %q is not an address", ErrInvalidConfig, addr)
		}
	}
	if c.MaxRecipients > 0 && c.MinRecipients > c.MaxRecipients {
		return fmt.Errorf("%w: minRecipients %d exceeds maxRecipients %d",
			ErrInvalidConfig, c.MinRecipients, c.MaxRecipients)
	}
	if _, _, err := parseRecurring(c.RecurringPayments); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for addr, lc := range c.Locks {
		if _, _, err := parseRecurring(lc.RecurringPayments); err != nil {
			return fmt.Errorf("%w: lock %s: %v", ErrInvalidConfig, addr, err)
		}
	}
	return nil
}

// LockConfigFor returns the per-lock configuration for an address, matching
// keys case-insensitively.
func (c *PaywallConfig) LockConfigFor(address common.Address) (LockConfig, bool) {
	for key, lc := range c.Locks {
		if strings.EqualFold(key, address.Hex()) {
			return lc, true
		}
	}
	return LockConfig{}, false
}

// SkipQuantityFor resolves the quantity-step skip flag for a lock: per-lock
// override over global default.
func (c *PaywallConfig) SkipQuantityFor(address common.Address) bool {
	if lc, ok := c.LockConfigFor(address); ok && lc.SkipQuantity != nil {
		return *lc.SkipQuantity
	}
	return c.SkipQuantity
}

// SkipRecipientFor resolves the recipient-step skip flag for a lock.
func (c *PaywallConfig) SkipRecipientFor(address common.Address) bool {
	if lc, ok := c.LockConfigFor(address); ok && lc.SkipRecipient != nil {
		return *lc.SkipRecipient
	}
	return c.SkipRecipient
}

// DataBuilderFor resolves the data-builder endpoint for a lock.
func (c *PaywallConfig) DataBuilderFor(address common.Address) string {
	if lc, ok := c.LockConfigFor(address); ok && lc.DataBuilder != "" {
		return lc.DataBuilder
	}
	return c.DataBuilder
}

// ReferrerFor resolves the referral address credited for a purchase by the
// given recipient: per-lock referrer, then global referrer, then the
// recipient itself.
func (c *PaywallConfig) ReferrerFor(address common.Address, recipient common.Address) common.Address {
	if lc, ok := c.LockConfigFor(address); ok && lc.Referrer != "" {
		return common.HexToAddress(lc.Referrer)
	}
	if c.Referrer != "" {
		return common.HexToAddress(c.Referrer)
	}
	return recipient
}

// RecurringFor resolves the renewal pre-approval policy for a lock.
func (c *PaywallConfig) RecurringFor(address common.Address) (count int, forever bool) {
	if lc, ok := c.LockConfigFor(address); ok && lc.RecurringPayments != "" {
		count, forever, _ = parseRecurring(lc.RecurringPayments)
		return count, forever
	}
	count, forever, _ = parseRecurring(c.RecurringPayments)
	return count, forever
}

// QuantityBounds returns the effective quantity bounds, defaulting to 1..100.
func (c *PaywallConfig) QuantityBounds() (min, max int) {
	min, max = 1, 100
	if c.MinRecipients > 0 {
		min = c.MinRecipients
	}
	if c.MaxRecipients > 0 {
		max = c.MaxRecipients
	}
	return min, max
}

func parseRecurring(policy string) (count int, forever bool, err error) {
	if policy == "" {
		return 0, false, nil
	}
	if strings.EqualFold(policy, "forever") {
		return 0, true, nil
	}
	n, err := strconv.Atoi(policy)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("recurringPayments must be a count or %q, got %q", "forever", policy)
	}
	return n, false, nil
}
