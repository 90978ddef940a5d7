// Package watcher tracks submitted transactions until they reach enough
// confirmations to be treated as final.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
)

const (
	defaultInterval      = 4 * time.Second
	defaultConfirmations = 2
)

// ReceiptSource is the slice of the RPC client the watcher polls.
// *ethclient.Client satisfies it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Watcher polls for transaction receipts. There is no hard timeout; a
// pending transaction is watched until the context is cancelled.
type Watcher struct {
	sources       map[uint64]ReceiptSource
	interval      time.Duration
	confirmations uint64
	logger        *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// New creates a watcher with the given options.
func New(opts ...Option) *Watcher {
	w := &Watcher{
		sources:       make(map[uint64]ReceiptSource),
		interval:      defaultInterval,
		confirmations: defaultConfirmations,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithSource registers the receipt source for a network.
func WithSource(network uint64, source ReceiptSource) Option {
	return func(w *Watcher) {
		w.sources[network] = source
	}
}

// WithInterval sets the polling interval.
func WithInterval(interval time.Duration) Option {
	return func(w *Watcher) {
		w.interval = interval
	}
}

// WithConfirmations sets the confirmation depth for finality.
func WithConfirmations(confirmations uint64) Option {
	return func(w *Watcher) {
		w.confirmations = confirmations
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Wait implements checkout.TransactionWatcher.
func (w *Watcher) Wait(ctx context.Context, network uint64, hash common.Hash) (checkout.TransactionStatus, error) {
	source, ok := w.sources[network]
	if !ok {
		return checkout.StatusError, fmt.Errorf("%w: no receipt source for network %d", checkout.ErrInvalidConfig, network)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		status, done, err := w.check(ctx, source, hash)
		if done {
			return status, err
		}

		select {
		case <-ctx.Done():
			return checkout.StatusProcessing, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) check(ctx context.Context, source ReceiptSource, hash common.Hash) (checkout.TransactionStatus, bool, error) {
	receipt, err := source.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			w.logger.Debug("transaction pending", zap.String("hash", hash.Hex()))
			return checkout.StatusProcessing, false, nil
		}
		if ctx.Err() != nil {
			return checkout.StatusProcessing, true, ctx.Err()
		}
		// Transient RPC failures keep the poll alive.
		w.logger.Debug("receipt fetch failed", zap.String("hash", hash.Hex()), zap.Error(err))
		return checkout.StatusProcessing, false, nil
	}

	head, err := source.BlockNumber(ctx)
	if err != nil {
		return checkout.StatusProcessing, false, nil
	}
	if head < receipt.BlockNumber.Uint64() || head-receipt.BlockNumber.Uint64()+1 < w.confirmations {
		w.logger.Debug("awaiting confirmations",
			zap.String("hash", hash.Hex()),
			zap.Uint64("minedAt", receipt.BlockNumber.Uint64()),
			zap.Uint64("head", head))
		return checkout.StatusProcessing, false, nil
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return checkout.StatusError, true, fmt.Errorf("%w: %s", checkout.ErrTransactionReverted, hash.Hex())
	}

	w.logger.Info("transaction confirmed",
		zap.String("hash", hash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))

	return checkout.StatusFinished, true, nil
}
