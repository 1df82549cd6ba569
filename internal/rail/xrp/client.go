// Package xrp pays and verifies obligations on the XRP ledger through the
// rippled JSON-RPC API.
package xrp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a node does not know the transaction.
var ErrNotFound = errors.New("transaction not found")

// EngineError is a non-success preliminary result of a submitted transaction.
type EngineError struct {
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RPCError is an error status in a JSON-RPC response.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
}

// AccountInfo is the subset of account_info we rely on.
type AccountInfo struct {
	Account  string `json:"Account"`
	Balance  string `json:"Balance"`
	Sequence uint32 `json:"Sequence"`
}

// ServerInfo is the subset of server_info we rely on.
type ServerInfo struct {
	State           string
	ValidatedLedger uint32
}

// Payment is the tx_json of a Payment transaction.
type Payment struct {
	TransactionType    string `json:"TransactionType"`
	Account            string `json:"Account"`
	Destination        string `json:"Destination"`
	Amount             string `json:"Amount"`
	Sequence           uint32 `json:"Sequence"`
	LastLedgerSequence uint32 `json:"LastLedgerSequence"`
	InvoiceID          string `json:"InvoiceID,omitempty"`
}

// SubmitResult is the preliminary result of a submitted transaction.
type SubmitResult struct {
	EngineResult string
	Message      string
	Hash         string
}

// Transaction is a looked-up payment.
type Transaction struct {
	Hash               string
	Account            string
	Destination        string
	Amount             string
	DeliveredAmount    string
	InvoiceID          string
	LastLedgerSequence uint32
	Validated          bool
	Result             string
}

// Client talks JSON-RPC to a single rippled node.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for url allowing limit requests per second.
func NewClient(url string, limit rate.Limit, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:     url,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// URL identifies the node in logs and verification reasons.
func (c *Client) URL() string {
	return c.url
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{Method: method, Params: []any{params}})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: node returned HTTP %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return fmt.Errorf("%s: decode status: %w", method, err)
	}
	if status.Status == "error" {
		if status.Error == "txnNotFound" {
			return ErrNotFound
		}
		return &RPCError{Code: status.Error, Message: status.ErrorMessage}
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// AccountInfo returns balance and next sequence of account in the current ledger.
func (c *Client) AccountInfo(ctx context.Context, account string) (AccountInfo, error) {
	var result struct {
		AccountData AccountInfo `json:"account_data"`
	}
	params := map[string]any{"account": account, "ledger_index": "current"}
	if err := c.call(ctx, "account_info", params, &result); err != nil {
		return AccountInfo{}, err
	}
	return result.AccountData, nil
}

// LedgerCurrentIndex returns the index of the open ledger.
func (c *Client) LedgerCurrentIndex(ctx context.Context) (uint32, error) {
	var result struct {
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}
	if err := c.call(ctx, "ledger_current", map[string]any{}, &result); err != nil {
		return 0, err
	}
	return result.LedgerCurrentIndex, nil
}

// ServerInfo returns the sync state of the node and its last validated ledger.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var result struct {
		Info struct {
			ServerState     string `json:"server_state"`
			ValidatedLedger struct {
				Seq uint32 `json:"seq"`
			} `json:"validated_ledger"`
		} `json:"info"`
	}
	if err := c.call(ctx, "server_info", map[string]any{}, &result); err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{State: result.Info.ServerState, ValidatedLedger: result.Info.ValidatedLedger.Seq}, nil
}

// Submit signs tx with secret on the node and submits it. Any preliminary
// result other than tesSUCCESS or terQUEUED comes back as an *EngineError.
func (c *Client) Submit(ctx context.Context, tx Payment, secret string) (SubmitResult, error) {
	var result struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	params := map[string]any{"tx_json": tx, "secret": secret, "offline": false}
	if err := c.call(ctx, "submit", params, &result); err != nil {
		return SubmitResult{}, err
	}
	out := SubmitResult{EngineResult: result.EngineResult, Message: result.EngineResultMessage, Hash: result.TxJSON.Hash}
	switch result.EngineResult {
	case "tesSUCCESS", "terQUEUED":
		return out, nil
	default:
		return out, &EngineError{Code: result.EngineResult, Message: result.EngineResultMessage}
	}
}

// Tx looks a transaction up by hash.
func (c *Client) Tx(ctx context.Context, hash string) (Transaction, error) {
	var result struct {
		Hash               string `json:"hash"`
		Account            string `json:"Account"`
		Destination        string `json:"Destination"`
		Amount             any    `json:"Amount"`
		InvoiceID          string `json:"InvoiceID"`
		LastLedgerSequence uint32 `json:"LastLedgerSequence"`
		Validated          bool   `json:"validated"`
		Meta               struct {
			TransactionResult string `json:"TransactionResult"`
			DeliveredAmount   any    `json:"delivered_amount"`
		} `json:"meta"`
	}
	if err := c.call(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &result); err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Hash:               result.Hash,
		Account:            result.Account,
		Destination:        result.Destination,
		Amount:             drops(result.Amount),
		DeliveredAmount:    drops(result.Meta.DeliveredAmount),
		InvoiceID:          result.InvoiceID,
		LastLedgerSequence: result.LastLedgerSequence,
		Validated:          result.Validated,
		Result:             result.Meta.TransactionResult,
	}, nil
}

// drops keeps native XRP amounts, which rippled encodes as a string of drops.
// Issued currency amounts are objects and come back empty.
func drops(v any) string {
	s, _ := v.(string)
	return s
}
