package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
)

// PaymentIntent is the intent-service record a card capture runs against.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

// IntentService fronts the card processor: it prices the purchase in fiat,
// confirms the charge and executes the on-chain purchase server-side.
type IntentService interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	CapturePurchase(ctx context.Context, intentID string) (string, error)
}

// CreateIntentRequest describes the purchase to the intent service.
type CreateIntentRequest struct {
	Lock       string   `json:"lock"`
	Network    uint64   `json:"network"`
	Recipients []string `json:"recipients"`
	Data       []string `json:"data"`

	// AmountCents is the fiat total in cents.
	AmountCents int64 `json:"amount"`
}

// Confirmer confirms a payment intent with the card processor.
// StripeConfirmer is the production implementation.
type Confirmer interface {
	Confirm(ctx context.Context, intentID, cardID string) error
}

// StripeConfirmer confirms intents through the Stripe API.
type StripeConfirmer struct{}

// UseAPIKey sets the Stripe API key.
func (StripeConfirmer) UseAPIKey(apiKey string) {
	stripe.Key = apiKey
}

// Confirm implements Confirmer.
func (StripeConfirmer) Confirm(_ context.Context, intentID, cardID string) error {
	_, err := paymentintent.Confirm(intentID, &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(cardID),
	})
	if err != nil {
		return fmt.Errorf("error confirming payment intent: %w", err)
	}
	return nil
}

// CardRail settles a purchase off-chain by card. The intent service executes
// the on-chain purchase after the charge confirms, so the buyer never signs
// a transaction.
type CardRail struct {
	intents   IntentService
	confirmer Confirmer
	logger    *zap.Logger
}

// CardOption configures a CardRail.
type CardOption func(*CardRail)

// NewCardRail creates the card rail over the given intent service.
func NewCardRail(intents IntentService, opts ...CardOption) (*CardRail, error) {
	if intents == nil {
		return nil, fmt.Errorf("%w: card rail needs an intent service", checkout.ErrInvalidConfig)
	}
	r := &CardRail{
		intents:   intents,
		confirmer: StripeConfirmer{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithConfirmer overrides the card-processor confirmer.
func WithConfirmer(confirmer Confirmer) CardOption {
	return func(r *CardRail) {
		r.confirmer = confirmer
	}
}

// WithCardLogger sets the rail logger.
func WithCardLogger(logger *zap.Logger) CardOption {
	return func(r *CardRail) {
		r.logger = logger
	}
}

// Supports implements checkout.Rail.
func (r *CardRail) Supports(method checkout.PaymentMethod) bool {
	_, ok := method.(checkout.PayCard)
	return ok
}

// Execute implements checkout.Rail.
func (r *CardRail) Execute(ctx context.Context, req checkout.PurchaseRequest) (string, error) {
	card, ok := req.Method.(checkout.PayCard)
	if !ok {
		return "", fmt.Errorf("%w: card rail got %s", checkout.ErrNoRail, req.Method.Method())
	}
	if !req.Lock.FiatPricing.CreditCardEnabled {
		return "", fmt.Errorf("%w: lock %s does not accept cards", checkout.ErrInvalidConfig, req.Lock.Address.Hex())
	}

	total := FiatTotal(req)

	intentReq := CreateIntentRequest{
		Lock:        req.Lock.Address.Hex(),
		Network:     req.Lock.Network,
		AmountCents: total.Mul(decimal.NewFromInt(100)).IntPart(),
	}
	for i, recipient := range req.Recipients {
		intentReq.Recipients = append(intentReq.Recipients, recipient.Address.Hex())
		intentReq.Data = append(intentReq.Data, fmt.Sprintf("0x%x", dataAt(req.Data, i)))
	}

	intent, err := r.intents.CreateIntent(ctx, intentReq)
	if err != nil {
		return "", err
	}

	if err := r.confirmer.Confirm(ctx, intent.ID, card.CardID); err != nil {
		return "", err
	}

	hash, err := r.intents.CapturePurchase(ctx, intent.ID)
	if err != nil {
		return "", err
	}

	r.logger.Info("captured card purchase",
		zap.String("lock", req.Lock.Address.Hex()),
		zap.String("intent", intent.ID),
		zap.String("total", total.StringFixed(2)),
		zap.String("hash", hash))

	return hash, nil
}

// FiatTotal is the full card charge for the purchase: the per-key fiat
// breakdown times the number of recipients.
func FiatTotal(req checkout.PurchaseRequest) decimal.Decimal {
	perKey := req.Lock.FiatPricing.Total()
	return perKey.Mul(decimal.NewFromInt(int64(len(req.Recipients))))
}

// IntentClient is the HTTP implementation of IntentService.
type IntentClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

// CreateIntent implements IntentService.
func (c *IntentClient) CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/intents", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("intent creation failed: status %d", resp.StatusCode)
	}

	var intent PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent response: %w", err)
	}

	return &intent, nil
}

type captureResponse struct {
	TransactionHash string `json:"transactionHash"`
}

// CapturePurchase implements IntentService.
func (c *IntentClient) CapturePurchase(ctx context.Context, intentID string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/intents/"+intentID+"/capture", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("capture failed: status %d", resp.StatusCode)
	}

	var capture captureResponse
	if err := json.NewDecoder(resp.Body).Decode(&capture); err != nil {
		return "", fmt.Errorf("failed to decode capture response: %w", err)
	}

	return capture.TransactionHash, nil
}

func (c *IntentClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}
