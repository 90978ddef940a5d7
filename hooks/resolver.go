// Package hooks resolves the gating mechanism guarding a lock and produces
// the per-recipient payloads each mechanism requires.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	checkout "github.com/mintgate/checkout-go"
)

// Resolver maps a lock's on-chain purchase hook to a gating kind, falling
// back to the paywall configuration's static flags when the hook is absent
// or unknown. Results are cached for the session.
type Resolver struct {
	mu       sync.RWMutex
	registry map[uint64]map[common.Address]checkout.HookKind
	cache    map[string]checkout.HookKind
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// NewResolver creates a resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: make(map[uint64]map[common.Address]checkout.HookKind),
		cache:    make(map[string]checkout.HookKind),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithHook registers a known hook deployment on a network.
func WithHook(network uint64, address common.Address, kind checkout.HookKind) ResolverOption {
	return func(r *Resolver) {
		byAddr, ok := r.registry[network]
		if !ok {
			byAddr = make(map[common.Address]checkout.HookKind)
			r.registry[network] = byAddr
		}
		byAddr[address] = kind
	}
}

// Resolve implements checkout.HookResolver.
func (r *Resolver) Resolve(_ context.Context, lock *checkout.Lock, config *checkout.PaywallConfig) (checkout.HookKind, error) {
	key := cacheKey(lock)

	r.mu.RLock()
	if kind, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return kind, nil
	}
	r.mu.RUnlock()

	kind := r.resolve(lock, config)

	r.mu.Lock()
	r.cache[key] = kind
	r.mu.Unlock()

	return kind, nil
}

func (r *Resolver) resolve(lock *checkout.Lock, config *checkout.PaywallConfig) checkout.HookKind {
	if lock.HookAddress != (common.Address{}) {
		if byAddr, ok := r.registry[lock.Network]; ok {
			if kind, ok := byAddr[lock.HookAddress]; ok {
				return kind
			}
		}
	}

	// Static flag fallback, password wins over captcha over promo.
	switch {
	case config != nil && config.Password:
		return checkout.HookPassword
	case config != nil && config.Captcha:
		return checkout.HookCaptcha
	case config != nil && config.Promo:
		return checkout.HookPromoCode
	case config != nil && config.Guild:
		return checkout.HookGuild
	}

	return checkout.HookNone
}

func cacheKey(lock *checkout.Lock) string {
	return fmt.Sprintf("%d:%s", lock.Network, lock.Address.Hex())
}
