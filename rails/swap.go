package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
	"github.com/mintgate/checkout-go/evm"
)

// SwapRail settles a purchase in a token the lock does not price in: one
// transaction through the purchaser contract swaps the buyer's input token
// and calls the lock with the proceeds.
type SwapRail struct {
	wallet     evm.Wallet
	purchasers map[uint64]common.Address
	logger     *zap.Logger
}

// SwapOption configures a SwapRail.
type SwapOption func(*SwapRail)

// NewSwapRail creates the swap rail for the given wallet.
func NewSwapRail(wallet evm.Wallet, opts ...SwapOption) (*SwapRail, error) {
	if wallet == nil {
		return nil, fmt.Errorf("%w: swap rail needs a wallet", checkout.ErrInvalidConfig)
	}
	r := &SwapRail{
		wallet:     wallet,
		purchasers: make(map[uint64]common.Address),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithPurchaser registers the purchaser contract deployed on a network.
func WithPurchaser(network uint64, address common.Address) SwapOption {
	return func(r *SwapRail) {
		r.purchasers[network] = address
	}
}

// WithSwapLogger sets the rail logger.
func WithSwapLogger(logger *zap.Logger) SwapOption {
	return func(r *SwapRail) {
		r.logger = logger
	}
}

// Supports implements checkout.Rail.
func (r *SwapRail) Supports(method checkout.PaymentMethod) bool {
	_, ok := method.(checkout.PaySwap)
	return ok
}

// Execute implements checkout.Rail.
func (r *SwapRail) Execute(ctx context.Context, req checkout.PurchaseRequest) (string, error) {
	swap, ok := req.Method.(checkout.PaySwap)
	if !ok {
		return "", fmt.Errorf("%w: swap rail got %s", checkout.ErrNoRail, req.Method.Method())
	}
	purchaser, ok := r.purchasers[req.Lock.Network]
	if !ok {
		return "", fmt.Errorf("%w: no purchaser contract on network %d", checkout.ErrInvalidConfig, req.Lock.Network)
	}

	lockCalldata, err := r.lockCalldata(req)
	if err != nil {
		return "", err
	}

	amountInMax := evm.WithSlippage(swap.Route.AmountInMax)

	if swap.Route.TokenIn != (common.Address{}) {
		approveCalldata, err := evm.ApproveCalldata(purchaser, amountInMax)
		if err != nil {
			return "", err
		}
		if _, err := r.wallet.SendTransaction(ctx, evm.TxRequest{
			To:   swap.Route.TokenIn,
			Data: approveCalldata,
		}); err != nil {
			return "", classify(err)
		}
	}

	calldata, err := evm.SwapAndCallCalldata(
		req.Lock.Address,
		swap.Route.TokenIn,
		amountInMax,
		swap.Route.SwapRouter,
		swap.Route.SwapCalldata,
		lockCalldata,
	)
	if err != nil {
		return "", err
	}

	value := swap.Route.Value
	if value == nil {
		value = big.NewInt(0)
	}

	hash, err := r.wallet.SendTransaction(ctx, evm.TxRequest{
		To:    purchaser,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		return "", classify(evm.RevertTag(err))
	}

	r.logger.Info("submitted swap and purchase",
		zap.String("lock", req.Lock.Address.Hex()),
		zap.String("tokenIn", swap.Route.TokenInSymbol),
		zap.String("amountInMax", amountInMax.String()),
		zap.String("hash", hash.Hex()))

	return hash.Hex(), nil
}

func (r *SwapRail) lockCalldata(req checkout.PurchaseRequest) ([]byte, error) {
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
	return evm.PurchaseCalldata(prices, recipients, req.Referrers, keyManagers, req.Data)
}

// RouteService resolves a swap route from an input token to the lock's
// settlement currency for a given output amount.
type RouteService interface {
	GetRoute(ctx context.Context, req RouteRequest) (*checkout.SwapRoute, error)
}

// RouteRequest describes the swap the routing service should quote.
type RouteRequest struct {
	Network   uint64         `json:"network"`
	Lock      common.Address `json:"lockAddress"`
	TokenIn   common.Address `json:"tokenIn"`
	AmountOut *big.Int       `json:"amountOut"`
	Recipient common.Address `json:"recipient"`
}

// RouteClient is the HTTP implementation of RouteService.
type RouteClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

type routeResponse struct {
	TokenInSymbol   string `json:"tokenInSymbol"`
	TokenInDecimals int    `json:"tokenInDecimals"`
	SwapRouter      string `json:"swapRouter"`
	SwapCalldata    string `json:"swapCalldata"`
	AmountInMax     string `json:"amountInMax"`
	Value           string `json:"value"`
}

// GetRoute implements RouteService.
func (c *RouteClient) GetRoute(ctx context.Context, req RouteRequest) (*checkout.SwapRoute, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/route", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("route request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route request failed with status %d", resp.StatusCode)
	}

	var body routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode route response: %w", err)
	}

	swapCalldata, err := hexutil.Decode(body.SwapCalldata)
	if err != nil {
		return nil, fmt.Errorf("malformed swap calldata: %w", err)
	}
	amountInMax, ok := new(big.Int).SetString(body.AmountInMax, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amountInMax %q", body.AmountInMax)
	}

	route := &checkout.SwapRoute{
		TokenIn:         req.TokenIn,
		TokenInSymbol:   body.TokenInSymbol,
		TokenInDecimals: body.TokenInDecimals,
		SwapRouter:      common.HexToAddress(body.SwapRouter),
		SwapCalldata:    swapCalldata,
		AmountInMax:     amountInMax,
	}
	if body.Value != "" {
		value, ok := new(big.Int).SetString(body.Value, 10)
		if !ok {
			return nil, fmt.Errorf("malformed value %q", body.Value)
		}
		route.Value = value
	}
	return route, nil
}
