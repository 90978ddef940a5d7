package rails

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
	"github.com/mintgate/checkout-go/evm"
)

// CryptoRail purchases or renews memberships directly from the buyer's
// wallet. Expired keys on locks at version 10 or later are renewed with
// extend; everything else goes through a single batched purchase.
type CryptoRail struct {
	wallet  evm.Wallet
	clients map[uint64]evm.ChainReader
	logger  *zap.Logger
	now     func() time.Time
}

// CryptoOption configures a CryptoRail.
type CryptoOption func(*CryptoRail)

// NewCryptoRail creates the crypto rail for the given wallet.
func NewCryptoRail(wallet evm.Wallet, opts ...CryptoOption) (*CryptoRail, error) {
	if wallet == nil {
		return nil, fmt.Errorf("%w: crypto rail needs a wallet", checkout.ErrInvalidConfig)
	}
	r := &CryptoRail{
		wallet:  wallet,
		clients: make(map[uint64]evm.ChainReader),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithCryptoChainClient registers the RPC client for a network.
func WithCryptoChainClient(network uint64, client evm.ChainReader) CryptoOption {
	return func(r *CryptoRail) {
		r.clients[network] = client
	}
}

// WithCryptoLogger sets the rail logger.
func WithCryptoLogger(logger *zap.Logger) CryptoOption {
	return func(r *CryptoRail) {
		r.logger = logger
	}
}

// Supports implements checkout.Rail.
func (r *CryptoRail) Supports(method checkout.PaymentMethod) bool {
	_, ok := method.(checkout.PayCrypto)
	return ok
}

// Execute implements checkout.Rail.
func (r *CryptoRail) Execute(ctx context.Context, req checkout.PurchaseRequest) (string, error) {
	client, ok := r.clients[req.Lock.Network]
	if !ok {
		return "", fmt.Errorf("%w: no RPC client for network %d", checkout.ErrInvalidConfig, req.Lock.Network)
	}
	contract := evm.NewLock(req.Lock.Address, req.Lock.Network, client)

	if err := r.approveIfNeeded(ctx, req); err != nil {
		return "", err
	}

	if len(req.Recipients) == 1 && req.Lock.Version >= 10 {
		tokenID, renew, err := r.renewalToken(ctx, contract, req.Recipients[0].Address)
		if err != nil {
			return "", err
		}
		if renew {
			return r.extend(ctx, req, tokenID)
		}
	}

	return r.purchase(ctx, req)
}

// renewalToken reports whether the recipient holds an expired, renewable key.
// Keys with an unbounded expiration never renew.
func (r *CryptoRail) renewalToken(ctx context.Context, contract *evm.Lock, owner common.Address) (*big.Int, bool, error) {
	tokenID, err := contract.TokenIDFor(ctx, owner)
	if err != nil || tokenID == nil || tokenID.Sign() == 0 {
		// No key held is the normal purchase path, not a failure.
		return nil, false, nil
	}

	expiration, err := contract.KeyExpiration(ctx, tokenID)
	if err != nil {
		return nil, false, err
	}
	if expiration.Cmp(evm.MaxUint256) == 0 {
		return nil, false, nil
	}
	if expiration.Cmp(big.NewInt(r.now().Unix())) > 0 {
		return nil, false, nil
	}

	return tokenID, true, nil
}

func (r *CryptoRail) extend(ctx context.Context, req checkout.PurchaseRequest, tokenID *big.Int) (string, error) {
	price := req.Pricing.Quotes[0].Amount
	calldata, err := evm.ExtendCalldata(price, tokenID, req.Referrers[0], dataAt(req.Data, 0))
	if err != nil {
		return "", err
	}

	hash, err := r.wallet.SendTransaction(ctx, evm.TxRequest{
		To:    req.Lock.Address,
		Value: r.nativeValue(req, price),
		Data:  calldata,
	})
	if err != nil {
		return "", classify(err)
	}

	r.logger.Info("submitted renewal",
		zap.String("lock", req.Lock.Address.Hex()),
		zap.String("tokenId", tokenID.String()),
		zap.String("hash", hash.Hex()))

	return hash.Hex(), nil
}

func (r *CryptoRail) purchase(ctx context.Context, req checkout.PurchaseRequest) (string, error) {
	prices := make([]*big.Int, len(req.Recipients))
	recipients := make([]common.Address, len(req.Recipients))
	keyManagers := make([]common.Address, len(req.Recipients))
	for i, recipient := range req.Recipients {
		prices[i] = req.Pricing.Quotes[i].Amount
		recipients[i] = recipient.Address
		if recipient.KeyManager != nil {
			keyManagers[i] = *recipient.KeyManager
		}
	}

	calldata, err := evm.PurchaseCalldata(prices, recipients, req.Referrers, keyManagers, req.Data)
	if err != nil {
		return "", err
	}

	hash, err := r.wallet.SendTransaction(ctx, evm.TxRequest{
		To:    req.Lock.Address,
		Value: r.nativeValue(req, req.Pricing.Total),
		Data:  calldata,
	})
	if err != nil {
		return "", classify(err)
	}

	r.logger.Info("submitted purchase",
		zap.String("lock", req.Lock.Address.Hex()),
		zap.Int("recipients", len(recipients)),
		zap.String("hash", hash.Hex()))

	return hash.Hex(), nil
}

// approveIfNeeded submits the ERC-20 approval ahead of a purchase in the
// lock's settlement token. Recurring purchases pre-approve future renewals,
// indefinitely when requested.
func (r *CryptoRail) approveIfNeeded(ctx context.Context, req checkout.PurchaseRequest) error {
	if req.Lock.CurrencyAddress == (common.Address{}) {
		return nil
	}

	amount := approvalAmount(req)
	calldata, err := evm.ApproveCalldata(req.Lock.Address, amount)
	if err != nil {
		return err
	}

	hash, err := r.wallet.SendTransaction(ctx, evm.TxRequest{
		To:   req.Lock.CurrencyAddress,
		Data: calldata,
	})
	if err != nil {
		return classify(err)
	}

	r.logger.Debug("submitted approval",
		zap.String("token", req.Lock.CurrencyAddress.Hex()),
		zap.String("amount", amount.String()),
		zap.String("hash", hash.Hex()))

	return nil
}

func approvalAmount(req checkout.PurchaseRequest) *big.Int {
	switch {
	case req.TotalApproval != nil:
		return req.TotalApproval
	case req.RecurringForever:
		return evm.MaxUint256
	case req.RecurringCount > 0:
		return new(big.Int).Mul(req.Pricing.Total, big.NewInt(int64(req.RecurringCount)))
	default:
		return req.Pricing.Total
	}
}

func (r *CryptoRail) nativeValue(req checkout.PurchaseRequest, amount *big.Int) *big.Int {
	if req.Lock.CurrencyAddress == (common.Address{}) {
		return amount
	}
	return big.NewInt(0)
}

func dataAt(data [][]byte, i int) []byte {
	if i < len(data) {
		return data[i]
	}
	return nil
}
