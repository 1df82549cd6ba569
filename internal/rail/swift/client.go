// Package swift pays obligations by wire transfer through a SWIFT gateway
// and tracks them by UETR.
package swift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned for a UETR the gateway does not know.
	ErrNotFound = errors.New("payment not found")
	// ErrDuplicate is returned when the UETR was already submitted.
	ErrDuplicate = errors.New("payment already submitted")
	// ErrInsufficientFunds is returned when the debtor account cannot cover the transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ISO 20022 transaction status codes.
const (
	StatusAccepted           = "ACCC"
	StatusSettlementComplete = "ACSC"
	StatusInProcess          = "ACSP"
	StatusTechnicalAccepted  = "ACTC"
	StatusPending            = "PDNG"
	StatusRejected           = "RJCT"
)

// Instruction is a credit transfer request.
type Instruction struct {
	UETR           string `json:"uetr"`
	DebtorIBAN     string `json:"debtor_iban"`
	CreditorIBAN   string `json:"creditor_iban"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	RemittanceInfo string `json:"remittance_information"`
	ExecutionDate  string `json:"requested_execution_date"`
}

// UnsignedPayment is the gateway's payload that must be signed before submission.
type UnsignedPayment struct {
	UETR    string `json:"uetr"`
	Payload string `json:"payload"`
}

// Status is the current processing state of a transfer.
type Status struct {
	UETR   string `json:"uetr"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Client talks to the SWIFT gateway REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, limit rate.Limit, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient, limiter: rate.NewLimiter(limit, 1)}
}

// CreateUnsigned registers the instruction and returns the payload to sign.
func (c *Client) CreateUnsigned(ctx context.Context, in Instruction) (UnsignedPayment, error) {
	var out UnsignedPayment
	err := c.do(ctx, http.MethodPost, "/payments/unsigned", in, &out)
	return out, err
}

// Submit sends the detached signature for a previously created payload.
func (c *Client) Submit(ctx context.Context, uetr, signature, publicKey string) (Status, error) {
	var out Status
	body := map[string]string{"signature": signature, "public_key": publicKey}
	err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(uetr)+"/submit", body, &out)
	return out, err
}

// Status returns the processing state of uetr.
func (c *Client) Status(ctx context.Context, uetr string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(uetr)+"/status", nil, &out)
	return out, err
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		var ge gatewayError
		_ = json.Unmarshal(data, &ge)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusConflict:
			return ErrDuplicate
		case ge.Code == "INSUFFICIENT_FUNDS":
			return ErrInsufficientFunds
		default:
			return fmt.Errorf("%s %s: gateway returned %d %s %s", method, path, resp.StatusCode, ge.Code, ge.Message)
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
