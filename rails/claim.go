package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
	"github.com/mintgate/checkout-go/retry"
)

// ClaimService airdrops zero-price memberships against a signed claim.
type ClaimService interface {
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
}

// ClaimRequest is one recipient's claim.
type ClaimRequest struct {
	Lock      string `json:"lock"`
	Network   uint64 `json:"network"`
	Recipient string `json:"recipient"`
	Data      string `json:"data"`
}

// ClaimResult is the executed claim.
type ClaimResult struct {
	TransactionHash string `json:"transactionHash"`
	Owner           string `json:"owner"`
}

// ClaimRail settles free memberships through the claim service, so the
// recipient pays no gas.
type ClaimRail struct {
	claims ClaimService
	logger *zap.Logger
}

// ClaimOption configures a ClaimRail.
type ClaimOption func(*ClaimRail)

// NewClaimRail creates the claim rail over the given service.
func NewClaimRail(claims ClaimService, opts ...ClaimOption) (*ClaimRail, error) {
	if claims == nil {
		return nil, fmt.Errorf("%w: claim rail needs a claim service", checkout.ErrInvalidConfig)
	}
	r := &ClaimRail{claims: claims, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithClaimLogger sets the rail logger.
func WithClaimLogger(logger *zap.Logger) ClaimOption {
	return func(r *ClaimRail) {
		r.logger = logger
	}
}

// Supports implements checkout.Rail.
func (r *ClaimRail) Supports(method checkout.PaymentMethod) bool {
	_, ok := method.(checkout.PayClaim)
	return ok
}

// Execute implements checkout.Rail. Claims run one recipient at a time; the
// hash of the last claim is reported for confirmation tracking.
func (r *ClaimRail) Execute(ctx context.Context, req checkout.PurchaseRequest) (string, error) {
	var hash string
	for i, recipient := range req.Recipients {
		result, err := r.claims.Claim(ctx, ClaimRequest{
			Lock:      req.Lock.Address.Hex(),
			Network:   req.Lock.Network,
			Recipient: recipient.Address.Hex(),
			Data:      fmt.Sprintf("0x%x", dataAt(req.Data, i)),
		})
		if err != nil {
			return "", err
		}
		hash = result.TransactionHash

		r.logger.Info("claimed membership",
			zap.String("lock", req.Lock.Address.Hex()),
			zap.String("recipient", recipient.Address.Hex()),
			zap.String("hash", hash))
	}
	return hash, nil
}

// ClaimClient is the HTTP implementation of ClaimService.
type ClaimClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

// Claim implements ClaimService. Transport failures and server errors are
// retried; a rejected claim is not.
func (c *ClaimClient) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return retry.WithSimpleRetry(ctx, func() (*ClaimResult, error) {
		return c.claimOnce(ctx, data)
	})
}

func (c *ClaimClient) claimOnce(ctx context.Context, data []byte) (*ClaimResult, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/claim", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("claim failed: status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: claim rejected with status %d", checkout.ErrGatingFailed, resp.StatusCode)
	}

	var result ClaimResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode claim response: %w", err)
	}

	return &result, nil
}

func (c *ClaimClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}
