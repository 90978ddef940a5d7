package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	checkout "github.com/mintgate/checkout-go"
)

// CaptchaClient exchanges a solved captcha token for signed per-recipient
// payloads at the verification service.
type CaptchaClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

type captchaRequest struct {
	Token      string   `json:"captchaValue"`
	Recipients []string `json:"recipients"`
}

type captchaResponse struct {
	Signatures []string `json:"signatures"`
}

// Verify posts the solved token and returns one signature per recipient.
func (c *CaptchaClient) Verify(ctx context.Context, token string, recipients []common.Address) ([][]byte, error) {
	req := captchaRequest{Token: token}
	for _, r := range recipients {
		req.Recipients = append(req.Recipients, r.Hex())
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/verify", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrGatingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: captcha verification status %d", checkout.ErrGatingFailed, resp.StatusCode)
	}

	var captchaResp captchaResponse
	if err := json.NewDecoder(resp.Body).Decode(&captchaResp); err != nil {
		return nil, fmt.Errorf("failed to decode captcha response: %w", err)
	}

	if len(captchaResp.Signatures) != len(recipients) {
		return nil, fmt.Errorf("%w: got %d signatures for %d recipients", checkout.ErrGatingFailed, len(captchaResp.Signatures), len(recipients))
	}

	payloads := make([][]byte, len(captchaResp.Signatures))
	for i, sig := range captchaResp.Signatures {
		decoded, err := hexutil.Decode(sig)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed signature: %v", checkout.ErrGatingFailed, err)
		}
		payloads[i] = decoded
	}

	return payloads, nil
}

// WithToken binds a solved token to the client as a gating provider.
func (c *CaptchaClient) WithToken(token string) checkout.GatingProvider {
	return &captchaProvider{client: c, token: token}
}

type captchaProvider struct {
	client *CaptchaClient
	token  string
}

func (p *captchaProvider) Payloads(ctx context.Context, recipients []common.Address) ([][]byte, error) {
	return p.client.Verify(ctx, p.token, recipients)
}

func (c *CaptchaClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}
