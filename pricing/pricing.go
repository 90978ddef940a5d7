// Package pricing resolves per-recipient purchase prices and assembles the
// opaque purchase data each rail passes through to the lock.
package pricing

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	checkout "github.com/mintgate/checkout-go"
	"github.com/mintgate/checkout-go/evm"
)

const defaultBuilderTimeout = 5 * time.Second

// Service resolves quotes against the lock contract and purchase data from
// the configured data builder. Both operations are idempotent and cached for
// the session, keyed by lock, network, recipients and hook kind.
type Service struct {
	clients        map[uint64]evm.ChainReader
	httpClient     *http.Client
	builderTimeout time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	priceCache map[string]*checkout.PricingResult
	dataCache  map[string][][]byte
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// NewService creates a pricing service with the given options.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		clients:        make(map[uint64]evm.ChainReader),
		httpClient:     http.DefaultClient,
		builderTimeout: defaultBuilderTimeout,
		logger:         zap.NewNop(),
		priceCache:     make(map[string]*checkout.PricingResult),
		dataCache:      make(map[string][][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithChainClient registers the RPC client for a network.
func WithChainClient(network uint64, client evm.ChainReader) ServiceOption {
	return func(s *Service) {
		s.clients[network] = client
	}
}

// WithHTTPClient sets the client used for data-builder fetches.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithBuilderTimeout sets the per-recipient data-builder timeout.
func WithBuilderTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.builderTimeout = timeout
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// Prices implements checkout.PricingService. Every recipient is quoted
// against the lock contract with its purchase data, so hook-computed
// discounts land in the quote; any reverting quote fails the whole
// resolution with ErrPricing rather than falling back to the listed key
// price.
func (s *Service) Prices(ctx context.Context, lock *checkout.Lock, recipients []checkout.Recipient, referrers []common.Address, data [][]byte) (*checkout.PricingResult, error) {
	if len(referrers) != len(recipients) {
		return nil, fmt.Errorf("%w: %d referrers for %d recipients", checkout.ErrPricing, len(referrers), len(recipients))
	}
	if len(data) > 0 && len(data) != len(recipients) {
		return nil, fmt.Errorf("%w: %d payloads for %d recipients", checkout.ErrPricing, len(data), len(recipients))
	}

	key := priceKey(lock, recipients, referrers, data)
	s.mu.Lock()
	if cached, ok := s.priceCache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	client, ok := s.clients[lock.Network]
	if !ok {
		return nil, fmt.Errorf("%w: no RPC client for network %d", checkout.ErrPricing, lock.Network)
	}
	contract := evm.NewLock(lock.Address, lock.Network, client)

	quotes := make([]checkout.PriceQuote, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	for i, recipient := range recipients {
		i, recipient, referrer := i, recipient, referrers[i]
		payload := payloadAt(data, i)
		g.Go(func() error {
			amount, err := contract.PurchasePriceFor(gctx, recipient.Address, referrer, payload)
			if err != nil {
				return fmt.Errorf("%w: quote for %s: %v", checkout.ErrPricing, recipient.Address.Hex(), err)
			}
			quotes[i] = checkout.PriceQuote{
				Amount:   amount,
				Decimals: lock.CurrencyDecimals,
				Symbol:   lock.CurrencySymbol,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, q := range quotes {
		total.Add(total, q.Amount)
	}
	result := &checkout.PricingResult{Quotes: quotes, Total: total}

	s.logger.Debug("resolved prices",
		zap.String("lock", lock.Address.Hex()),
		zap.Uint64("network", lock.Network),
		zap.Int("recipients", len(recipients)),
		zap.String("total", total.String()))

	s.mu.Lock()
	s.priceCache[key] = result
	s.mu.Unlock()

	return result, nil
}

// PurchaseData implements checkout.PricingService. A configured data-builder
// URL takes precedence; otherwise the gating payloads already collected are
// used, and locks with neither get empty payloads.
func (s *Service) PurchaseData(ctx context.Context, req checkout.DataRequest) ([][]byte, error) {
	key := dataKey(req)
	s.mu.Lock()
	if cached, ok := s.dataCache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	var (
		data [][]byte
		err  error
	)
	switch {
	case req.DataBuilder != "":
		data, err = s.fetchBuilderData(ctx, req)
	case len(req.GatingData) == len(req.Recipients) && len(req.GatingData) > 0:
		data = req.GatingData
	default:
		data = make([][]byte, len(req.Recipients))
		for i := range data {
			data[i] = []byte{}
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dataCache[key] = data
	s.mu.Unlock()

	return data, nil
}

// fetchBuilderData queries the external builder once per recipient. Each
// fetch gets its own timeout and the first failure aborts the rest.
func (s *Service) fetchBuilderData(ctx context.Context, req checkout.DataRequest) ([][]byte, error) {
	data := make([][]byte, len(req.Recipients))
	g, gctx := errgroup.WithContext(ctx)
	for i, recipient := range req.Recipients {
		i, recipient := i, recipient
		g.Go(func() error {
			payload, err := s.fetchOne(gctx, req.DataBuilder, req.Lock, recipient.Address)
			if err != nil {
				return err
			}
			data[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Service) fetchOne(ctx context.Context, builder string, lock *checkout.Lock, recipient common.Address) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.builderTimeout)
	defer cancel()

	endpoint, err := builderURL(builder, lock, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrDataBuilder, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrDataBuilder, err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrDataBuilder, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: builder status %d for %s", checkout.ErrDataBuilder, resp.StatusCode, recipient.Hex())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrDataBuilder, err)
	}

	// Builders answer hex or raw bytes.
	if text := strings.TrimSpace(string(body)); strings.HasPrefix(text, "0x") {
		if decoded, decodeErr := hexutil.Decode(text); decodeErr == nil {
			return decoded, nil
		}
	}
	return body, nil
}

func builderURL(builder string, lock *checkout.Lock, recipient common.Address) (string, error) {
	u, err := url.Parse(builder)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("recipient", recipient.Hex())
	q.Set("lockAddress", lock.Address.Hex())
	q.Set("network", fmt.Sprintf("%d", lock.Network))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func priceKey(lock *checkout.Lock, recipients []checkout.Recipient, referrers []common.Address, data [][]byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%s", lock.Network, lock.Address.Hex())
	for i, r := range recipients {
		fmt.Fprintf(&b, ":%s>%s>%x", r.Address.Hex(), referrers[i].Hex(), payloadAt(data, i))
	}
	return b.String()
}

func payloadAt(data [][]byte, i int) []byte {
	if i < len(data) {
		return data[i]
	}
	return nil
}

func dataKey(req checkout.DataRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%s:%s:%s", req.Lock.Network, req.Lock.Address.Hex(), req.Hook, req.DataBuilder)
	for _, r := range req.Recipients {
		fmt.Fprintf(&b, ":%s", r.Address.Hex())
	}
	return b.String()
}
