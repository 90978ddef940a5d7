package rails

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	checkout "github.com/mintgate/checkout-go"
)

type fakeIntents struct {
	created  *CreateIntentRequest
	captured string
	hash     string
	err      error
}

func (f *fakeIntents) CreateIntent(_ context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &req
	return &PaymentIntent{ID: "pi_123", ClientSecret: "cs_secret"}, nil
}

func (f *fakeIntents) CapturePurchase(_ context.Context, intentID string) (string, error) {
	f.captured = intentID
	return f.hash, nil
}

type fakeConfirmer struct {
	confirmed string
	cardID    string
	err       error
}

func (f *fakeConfirmer) Confirm(_ context.Context, intentID, cardID string) error {
	if f.err != nil {
		return f.err
	}
	f.confirmed = intentID
	f.cardID = cardID
	return nil
}

func cardRequest() checkout.PurchaseRequest {
	req := nativeRequest(checkout.PayCard{CardID: "pm_visa"})
	req.Lock.FiatPricing = checkout.FiatPricing{
		CreditCardEnabled: true,
		KeyPrice:          decimal.NewFromFloat(10.00),
		ServiceFee:        decimal.NewFromFloat(1.00),
		ProcessingFee:     decimal.NewFromFloat(0.50),
	}
	return req
}

func TestCardRail(t *testing.T) {
	intents := &fakeIntents{hash: "0xfeed"}
	confirmer := &fakeConfirmer{}
	rail, err := NewCardRail(intents, WithConfirmer(confirmer))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash, err := rail.Execute(context.Background(), cardRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("hash = %s, want 0xfeed", hash)
	}

	// 11.50 per key, one recipient, in cents.
	if intents.created.AmountCents != 1150 {
		t.Errorf("amount = %d cents, want 1150", intents.created.AmountCents)
	}
	if confirmer.confirmed != "pi_123" || confirmer.cardID != "pm_visa" {
		t.Errorf("confirmed %s with card %s", confirmer.confirmed, confirmer.cardID)
	}
	if intents.captured != "pi_123" {
		t.Errorf("captured %s, want pi_123", intents.captured)
	}
}

func TestCardRailCardsDisabled(t *testing.T) {
	rail, err := NewCardRail(&fakeIntents{}, WithConfirmer(&fakeConfirmer{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := cardRequest()
	req.Lock.FiatPricing.CreditCardEnabled = false
	if _, err := rail.Execute(context.Background(), req); !errors.Is(err, checkout.ErrInvalidConfig) {
		t.Errorf("error = %v, want %v", err, checkout.ErrInvalidConfig)
	}
}

func TestCardRailConfirmFailureSkipsCapture(t *testing.T) {
	intents := &fakeIntents{hash: "0xfeed"}
	rail, err := NewCardRail(intents, WithConfirmer(&fakeConfirmer{err: errors.New("card declined")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := rail.Execute(context.Background(), cardRequest()); err == nil {
		t.Fatal("expected error from declined card")
	}
	if intents.captured != "" {
		t.Error("capture ran after a declined confirmation")
	}
}

func TestFiatTotalScalesWithRecipients(t *testing.T) {
	req := cardRequest()
	req.Recipients = append(req.Recipients, req.Recipients[0])

	if got := FiatTotal(req); !got.Equal(decimal.NewFromFloat(23.00)) {
		t.Errorf("total = %s, want 23.00", got)
	}
}

func TestIntentClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/intents":
			var req CreateIntentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad request body: %v", err)
			}
			json.NewEncoder(w).Encode(PaymentIntent{ID: "pi_123", ClientSecret: "cs_secret"})
		case "/intents/pi_123/capture":
			json.NewEncoder(w).Encode(captureResponse{TransactionHash: "0xfeed"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := &IntentClient{BaseURL: server.URL, Client: server.Client()}

	intent, err := client.CreateIntent(context.Background(), CreateIntentRequest{Lock: lockAddr.Hex()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ID != "pi_123" {
		t.Errorf("intent id = %s, want pi_123", intent.ID)
	}

	hash, err := client.CapturePurchase(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("hash = %s, want 0xfeed", hash)
	}
}

func TestClaimRail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(ClaimResult{TransactionHash: "0xclaimed", Owner: req.Recipient})
	}))
	defer server.Close()

	client := &ClaimClient{BaseURL: server.URL, Client: server.Client()}
	rail, err := NewClaimRail(client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash, err := rail.Execute(context.Background(), nativeRequest(checkout.PayClaim{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xclaimed" {
		t.Errorf("hash = %s, want 0xclaimed", hash)
	}
}

func TestClaimRailFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	rail, err := NewClaimRail(&ClaimClient{BaseURL: server.URL, Client: server.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rail.Execute(context.Background(), nativeRequest(checkout.PayClaim{})); err == nil {
		t.Fatal("expected error from rejected claim")
	}
}
