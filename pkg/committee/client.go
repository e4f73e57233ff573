package committee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
)

const (
	SignPath = "/sign"
	PingPath = "/ping"

	ErrorCodeGovernanceNotApproved = "governance_not_approved"
	ErrorCodeInvalidAction         = "invalid_action"
	ErrorCodeInternal              = "internal"
)

type SignResponse struct {
	Authority common.Address `json:"authority"`
	Signature hexutil.Bytes  `json:"signature"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HttpAuthorityClient talks to the signing server of each authority.
type HttpAuthorityClient struct {
	client *http.Client
}

func NewHttpAuthorityClient(requestTimeout time.Duration) *HttpAuthorityClient {
	return &HttpAuthorityClient{client: &http.Client{Timeout: requestTimeout}}
}

func (c *HttpAuthorityClient) RequestSignature(ctx context.Context, authority *Authority, action bridge.Action) ([]byte, error) {
	if authority.URL == "" {
		return nil, fmt.Errorf("authority %s has no url", authority)
	}
	body, err := bridge.MarshalAction(action)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(authority.URL, "/")+SignPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", authority, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		if errResp.Code == ErrorCodeGovernanceNotApproved {
			return nil, fmt.Errorf("%w: %s", ErrGovernanceNotApproved, errResp.Error)
		}
		return nil, fmt.Errorf("authority %s returned %d: %s", authority, resp.StatusCode, errResp.Error)
	}

	var signResp SignResponse
	if err := json.Unmarshal(data, &signResp); err != nil {
		return nil, fmt.Errorf("authority %s: decode response: %w", authority, err)
	}
	return signResp.Signature, nil
}

// Ping reports whether the authority's signing server is reachable.
func (c *HttpAuthorityClient) Ping(ctx context.Context, authority *Authority) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(authority.URL, "/")+PingPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority %s ping returned %d", authority, resp.StatusCode)
	}
	return nil
}
