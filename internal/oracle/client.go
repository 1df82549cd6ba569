package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// VerifyPath is where an oracle node serves verification requests.
const VerifyPath = "/api/v1/oracle/verify"

// Client is the initiator's view of a settlement oracle.
type Client interface {
	// RequestVerification blocks until the oracle returns a signed result for the latest payment of obl.
	RequestVerification(ctx context.Context, obl domain.Obligation) (*SettlementResult, error)
}

// VerifyRequest is the body posted to an oracle node.
type VerifyRequest struct {
	Obligation domain.Obligation `json:"obligation"`
}

// LocalClient calls an oracle running in the same process.
type LocalClient struct {
	service *Service
}

func NewLocalClient(service *Service) *LocalClient {
	return &LocalClient{service: service}
}

func (c *LocalClient) RequestVerification(ctx context.Context, obl domain.Obligation) (*SettlementResult, error) {
	return c.service.Verify(ctx, obl)
}

// HTTPClient calls a remote oracle node.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient builds a client. timeout bounds the whole verification, polling included.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success   bool              `json:"success"`
	Data      *SettlementResult `json:"data"`
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Reference string            `json:"reference"`
}

func (c *HTTPClient) RequestVerification(ctx context.Context, obl domain.Obligation) (*SettlementResult, error) {
	body, err := json.Marshal(VerifyRequest{Obligation: obl})
	if err != nil {
		return nil, fmt.Errorf("encode verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+VerifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, customError.WrapOracleUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, customError.WrapOracleUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, customError.WrapOracleUnavailable(fmt.Errorf("oracle returned status %d", resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, customError.WrapOracleUnavailable(fmt.Errorf("decode oracle response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		if env.Code == "" {
			return nil, customError.WrapOracleUnavailable(fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, env.Error))
		}
		return nil, customError.FromCode(env.Code, env.Error, env.Reference)
	}
	if env.Data == nil {
		return nil, customError.WrapOracleUnavailable(fmt.Errorf("oracle returned no result"))
	}
	return env.Data, nil
}
