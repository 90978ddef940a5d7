// Package rails implements the payment rails a checkout can settle over:
// direct crypto purchase, card capture, gasless claim and swap-and-purchase.
package rails

import (
	"fmt"
	"strings"

	checkout "github.com/mintgate/checkout-go"
	"github.com/mintgate/checkout-go/evm"
)

// Registry selects the rail for a payment method.
type Registry struct {
	rails []checkout.Rail
}

// NewRegistry creates a registry over the given rails.
func NewRegistry(rails ...checkout.Rail) *Registry {
	return &Registry{rails: rails}
}

// Register adds a rail.
func (r *Registry) Register(rail checkout.Rail) {
	r.rails = append(r.rails, rail)
}

// ForMethod returns the first rail supporting the method.
func (r *Registry) ForMethod(method checkout.PaymentMethod) (checkout.Rail, error) {
	for _, rail := range r.rails {
		if rail.Supports(method) {
			return rail, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", checkout.ErrNoRail, method.Method())
}

// classify maps wallet and RPC submission errors onto the checkout
// sentinels the orchestrator keys recovery on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if evm.IsUserRejection(err) {
		return fmt.Errorf("%w: %v", checkout.ErrUserRejected, err)
	}
	if strings.Contains(err.Error(), "insufficient funds") {
		return fmt.Errorf("%w: %v", checkout.ErrInsufficientFunds, err)
	}
	return err
}
