package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	EscrowCreate(ctx context.Context, req EscrowCreateRequest) (uint64, error)
	EscrowFund(ctx context.Context, id uint64, actor, amount string) error
	EscrowRelease(ctx context.Context, id uint64, actor string) error
	EscrowRefund(ctx context.Context, id uint64, actor string) error
	EscrowDispute(ctx context.Context, id uint64, actor, reason string) error
	EscrowResolve(ctx context.Context, id uint64, actor string, clientShareBps, freelancerShareBps uint32) error
	EscrowGet(ctx context.Context, id uint64) (*EscrowView, error)
	EscrowListByProject(ctx context.Context, projectID string) ([]EscrowView, error)
	EscrowListByClient(ctx context.Context, address string) ([]EscrowView, error)
	EscrowListByFreelancer(ctx context.Context, address string) ([]EscrowView, error)
	FeePolicy(ctx context.Context) (*FeePolicyView, error)
	SetFeeRate(ctx context.Context, actor string, feeRateBps uint32) error
	SetFeeRecipient(ctx context.Context, actor, recipient string) error
	BankBalance(ctx context.Context, address string) (*BalanceView, error)
}

// EscrowCreateRequest is the create payload accepted by the gateway and
// forwarded to the node.
type EscrowCreateRequest struct {
	ProjectID  string `json:"projectId"`
	Client     string `json:"client"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	Actor      string `json:"actor"`
}

// EscrowView mirrors the JSON returned by the node for escrow_get.
type EscrowView struct {
	ID            uint64 `json:"id"`
	ProjectID     string `json:"projectId"`
	Client        string `json:"client"`
	Freelancer    string `json:"freelancer"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
	DisputeReason string `json:"disputeReason,omitempty"`
}

// FeePolicyView mirrors the node fee policy result.
type FeePolicyView struct {
	FeeRateBps   uint32 `json:"feeRateBps"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
}

// BalanceView mirrors the node bank_balance result.
type BalanceView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// NodeError carries the JSON-RPC error surfaced by the node so handlers can
// map it onto an HTTP status.
type NodeError struct {
	Code    int
	Message string
	Data    string
}

func (e *NodeError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("node rpc error %d (%s): %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// RPCNodeClient implements NodeClient against the skillchain JSON-RPC server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCNodeClient) EscrowCreate(ctx context.Context, req EscrowCreateRequest) (uint64, error) {
	var result struct {
		ID uint64 `json:"id"`
	}
	if err := c.call(ctx, "escrow_create", []interface{}{req}, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

func (c *RPCNodeClient) EscrowFund(ctx context.Context, id uint64, actor, amount string) error {
	params := map[string]interface{}{"id": id, "actor": actor, "amount": amount}
	return c.call(ctx, "escrow_fund", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowRelease(ctx context.Context, id uint64, actor string) error {
	params := map[string]interface{}{"id": id, "actor": actor}
	return c.call(ctx, "escrow_release", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowRefund(ctx context.Context, id uint64, actor string) error {
	params := map[string]interface{}{"id": id, "actor": actor}
	return c.call(ctx, "escrow_refund", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowDispute(ctx context.Context, id uint64, actor, reason string) error {
	params := map[string]interface{}{"id": id, "actor": actor, "reason": reason}
	return c.call(ctx, "escrow_dispute", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowResolve(ctx context.Context, id uint64, actor string, clientShareBps, freelancerShareBps uint32) error {
	params := map[string]interface{}{
		"id":                 id,
		"actor":              actor,
		"clientShareBps":     clientShareBps,
		"freelancerShareBps": freelancerShareBps,
	}
	return c.call(ctx, "escrow_resolve", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowGet(ctx context.Context, id uint64) (*EscrowView, error) {
	var result EscrowView
	if err := c.call(ctx, "escrow_get", []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowListByProject(ctx context.Context, projectID string) ([]EscrowView, error) {
	var result []EscrowView
	if err := c.call(ctx, "escrow_listByProject", []interface{}{map[string]string{"projectId": projectID}}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) EscrowListByClient(ctx context.Context, address string) ([]EscrowView, error) {
	var result []EscrowView
	if err := c.call(ctx, "escrow_listByClient", []interface{}{map[string]string{"address": address}}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) EscrowListByFreelancer(ctx context.Context, address string) ([]EscrowView, error) {
	var result []EscrowView
	if err := c.call(ctx, "escrow_listByFreelancer", []interface{}{map[string]string{"address": address}}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) FeePolicy(ctx context.Context) (*FeePolicyView, error) {
	var result FeePolicyView
	if err := c.call(ctx, "escrow_feePolicy", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SetFeeRate(ctx context.Context, actor string, feeRateBps uint32) error {
	params := map[string]interface{}{"actor": actor, "feeRateBps": feeRateBps}
	return c.call(ctx, "escrow_setFeeRate", []interface{}{params}, nil)
}

func (c *RPCNodeClient) SetFeeRecipient(ctx context.Context, actor, recipient string) error {
	params := map[string]string{"actor": actor, "recipient": recipient}
	return c.call(ctx, "escrow_setFeeRecipient", []interface{}{params}, nil)
}

func (c *RPCNodeClient) BankBalance(ctx context.Context, address string) (*BalanceView, error) {
	var result BalanceView
	if err := c.call(ctx, "bank_balance", []interface{}{map[string]string{"address": address}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(payload))
	}
	if rpcResp.Error != nil {
		nodeErr := &NodeError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
		if len(rpcResp.Error.Data) > 0 {
			var data string
			if json.Unmarshal(rpcResp.Error.Data, &data) == nil {
				nodeErr.Data = data
			} else {
				nodeErr.Data = string(rpcResp.Error.Data)
			}
		}
		return nodeErr
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
