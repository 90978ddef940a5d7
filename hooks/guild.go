package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	checkout "github.com/mintgate/checkout-go"
)

// GuildClient fetches guild-membership proofs for recipients of a gated lock.
type GuildClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

type guildResponse struct {
	Proof string `json:"proof"`
}

// Proof fetches the membership proof for one recipient of the given lock.
func (c *GuildClient) Proof(ctx context.Context, network uint64, lock, recipient common.Address) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/%d/locks/%s/guild?recipient=%s", c.BaseURL, network, lock.Hex(), recipient.Hex())
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrGatingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: guild proof status %d for %s", checkout.ErrGatingFailed, resp.StatusCode, recipient.Hex())
	}

	var guildResp guildResponse
	if err := json.NewDecoder(resp.Body).Decode(&guildResp); err != nil {
		return nil, fmt.Errorf("failed to decode guild response: %w", err)
	}

	proof, err := hexutil.Decode(guildResp.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed proof: %v", checkout.ErrGatingFailed, err)
	}

	return proof, nil
}

// ForLock binds the client to one lock as a gating provider.
func (c *GuildClient) ForLock(network uint64, lock common.Address) checkout.GatingProvider {
	return &guildProvider{client: c, network: network, lock: lock}
}

type guildProvider struct {
	client  *GuildClient
	network uint64
	lock    common.Address
}

func (p *guildProvider) Payloads(ctx context.Context, recipients []common.Address) ([][]byte, error) {
	payloads := make([][]byte, len(recipients))
	for i, recipient := range recipients {
		proof, err := p.client.Proof(ctx, p.network, p.lock, recipient)
		if err != nil {
			return nil, err
		}
		payloads[i] = proof
	}
	return payloads, nil
}

func (c *GuildClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}
