package tron

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/sigweihq/agentpay/pkg/constants"
	"github.com/sigweihq/agentpay/pkg/utils"
)

// Signer signs transactions built by NodeClient
type Signer interface {
	Address() string
	SignTransaction(ctx context.Context, tx *Transaction) error
}

// NodeClient implements Client on top of a TRON full node HTTP API
type NodeClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	signer  Signer
}

var _ Client = (*NodeClient)(nil)

// NodeOption configures a NodeClient
type NodeOption func(*NodeClient)

// WithAPIKey sets the TronGrid API key header
func WithAPIKey(key string) NodeOption {
	return func(c *NodeClient) {
		c.apiKey = key
	}
}

func WithHTTPClient(h *http.Client) NodeOption {
	return func(c *NodeClient) {
		c.http = h
	}
}

// NewNodeClient creates a client for the full node at baseURL acting for signer
func NewNodeClient(baseURL string, signer Signer, opts ...NodeOption) (*NodeClient, error) {
	if err := utils.ValidateServiceURL(baseURL); err != nil {
		return nil, err
	}
	c := &NodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    utils.CreateHTTPClientWithTimeouts(),
		signer:  signer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *NodeClient) Ready() bool {
	return c != nil && c.signer != nil && c.signer.Address() != ""
}

func (c *NodeClient) DefaultAddress() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address()
}

type resultStatus struct {
	Result  bool   `json:"result"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type triggerRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter,omitempty"`
	CallValue        int64  `json:"call_value,omitempty"`
	FeeLimit         int64  `json:"fee_limit,omitempty"`
	Visible          bool   `json:"visible"`
}

type triggerResponse struct {
	Result         resultStatus `json:"result"`
	ConstantResult []string     `json:"constant_result,omitempty"`
	Transaction    *Transaction `json:"transaction,omitempty"`
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// endpoint returns the URL for path and the headers every request carries
func (c *NodeClient) endpoint(path string) (string, map[string]string) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["TRON-PRO-API-KEY"] = c.apiKey
	}
	return c.baseURL + path, headers
}

func (c *NodeClient) triggerRequest(call ContractCall) triggerRequest {
	feeLimit := call.FeeLimit
	if feeLimit == 0 {
		feeLimit = constants.TronDefaultFeeLimit
	}
	return triggerRequest{
		OwnerAddress:     c.DefaultAddress(),
		ContractAddress:  call.Contract,
		FunctionSelector: call.Method,
		Parameter:        hex.EncodeToString(call.Parameter),
		CallValue:        call.CallValue,
		FeeLimit:         feeLimit,
		Visible:          true,
	}
}

func (c *NodeClient) Send(ctx context.Context, call ContractCall) (string, error) {
	if !c.Ready() {
		return "", fmt.Errorf("tron client has no signer")
	}

	url, headers := c.endpoint("/wallet/triggersmartcontract")
	resp, err := utils.MakeJSONRequest[triggerResponse](ctx, c.http, http.MethodPost, url, c.triggerRequest(call), headers, "triggersmartcontract")
	if err != nil {
		return "", err
	}
	if !resp.Result.Result || resp.Transaction == nil {
		return "", fmt.Errorf("triggersmartcontract %s rejected: %s", call.Method, decodeMessage(resp.Result.Message))
	}

	res, err := c.signAndBroadcast(ctx, resp.Transaction)
	if err != nil {
		return "", err
	}
	if !res.Result {
		return res.TxID, fmt.Errorf("broadcast of %s failed: %s", call.Method, res.Message)
	}
	return res.TxID, nil
}

func (c *NodeClient) Call(ctx context.Context, call ContractCall) ([]byte, error) {
	req := c.triggerRequest(call)
	req.CallValue, req.FeeLimit = 0, 0

	url, headers := c.endpoint("/wallet/triggerconstantcontract")
	resp, err := utils.MakeJSONRequest[triggerResponse](ctx, c.http, http.MethodPost, url, req, headers, "triggerconstantcontract")
	if err != nil {
		return nil, err
	}
	if !resp.Result.Result {
		return nil, fmt.Errorf("triggerconstantcontract %s rejected: %s", call.Method, decodeMessage(resp.Result.Message))
	}
	if len(resp.ConstantResult) == 0 {
		return nil, fmt.Errorf("triggerconstantcontract %s returned no result", call.Method)
	}
	out, err := hex.DecodeString(resp.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("malformed constant_result: %w", err)
	}
	return out, nil
}

type createTransactionRequest struct {
	OwnerAddress string `json:"owner_address"`
	ToAddress    string `json:"to_address"`
	Amount       int64  `json:"amount"`
	Visible      bool   `json:"visible"`
}

type createTransactionResponse struct {
	Transaction
	Error string `json:"Error,omitempty"`
}

func (c *NodeClient) SendTrx(ctx context.Context, to string, amount int64) (*SendTrxResult, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("tron client has no signer")
	}

	url, headers := c.endpoint("/wallet/createtransaction")
	req := createTransactionRequest{OwnerAddress: c.DefaultAddress(), ToAddress: to, Amount: amount, Visible: true}
	resp, err := utils.MakeJSONRequest[createTransactionResponse](ctx, c.http, http.MethodPost, url, req, headers, "createtransaction")
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return &SendTrxResult{Result: false, Message: resp.Error}, nil
	}

	res, err := c.signAndBroadcast(ctx, &resp.Transaction)
	if err != nil {
		return nil, err
	}
	return &SendTrxResult{Result: res.Result, TxID: res.TxID, Message: res.Message}, nil
}

func (c *NodeClient) signAndBroadcast(ctx context.Context, tx *Transaction) (*SendTrxResult, error) {
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return nil, err
	}

	url, headers := c.endpoint("/wallet/broadcasttransaction")
	resp, err := utils.MakeJSONRequest[broadcastResponse](ctx, c.http, http.MethodPost, url, tx, headers, "broadcasttransaction")
	if err != nil {
		return nil, err
	}
	txID := resp.TxID
	if txID == "" {
		txID = tx.TxID
	}
	msg := decodeMessage(resp.Message)
	if resp.Code != "" && !resp.Result {
		msg = strings.TrimSpace(resp.Code + " " + msg)
	}
	return &SendTrxResult{Result: resp.Result, TxID: txID, Message: msg}, nil
}

type accountResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

func (c *NodeClient) GetBalance(ctx context.Context, address string) (int64, error) {
	url, headers := c.endpoint("/wallet/getaccount")
	resp, err := utils.MakeJSONRequest[accountResponse](ctx, c.http, http.MethodPost, url,
		map[string]any{"address": address, "visible": true}, headers, "getaccount")
	if err != nil {
		return 0, err
	}
	// Unactivated accounts come back as an empty object
	return resp.Balance, nil
}

func (c *NodeClient) GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error) {
	url, headers := c.endpoint("/wallet/gettransactioninfobyid")
	return utils.MakeJSONRequest[TransactionInfo](ctx, c.http, http.MethodPost, url,
		map[string]string{"value": txID}, headers, "gettransactioninfobyid")
}

// decodeMessage turns the node's hex encoded error messages into text
func decodeMessage(msg string) string {
	if raw, err := hex.DecodeString(msg); err == nil && len(raw) > 0 {
		return string(raw)
	}
	return msg
}
