package tron

import (
	"context"
	"encoding/json"
)

// AccountsResponse is the wallet's answer to an account request; Code 200 means granted
type AccountsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Wallet is the TRON wallet capability the adapter drives
type Wallet interface {
	// RequestAccounts asks the user to expose an account
	RequestAccounts(ctx context.Context) (*AccountsResponse, error)

	// Client returns the wallet's chain client, nil when it has not been injected yet
	Client() Client
}

// Client is a wallet-bound chain client: it builds, signs and broadcasts on behalf of DefaultAddress
type Client interface {
	Ready() bool
	DefaultAddress() string

	// Send triggers a state changing contract call and returns the broadcast transaction id
	Send(ctx context.Context, call ContractCall) (string, error)

	// Call runs a constant contract call and returns the raw ABI encoded result
	Call(ctx context.Context, call ContractCall) ([]byte, error)

	// SendTrx transfers amount sun to the given address
	SendTrx(ctx context.Context, to string, amount int64) (*SendTrxResult, error)

	// GetBalance returns the balance of address in sun
	GetBalance(ctx context.Context, address string) (int64, error)

	GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error)
}

// ContractCall describes a smart contract invocation
type ContractCall struct {
	Contract  string // base58 contract address
	Method    string // canonical signature, e.g. buyAgent(uint256)
	Parameter []byte // ABI encoded arguments without the selector
	CallValue int64  // sun attached to the call
	FeeLimit  int64
}

// SendTrxResult is the outcome of a native transfer broadcast
type SendTrxResult struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Message string `json:"message,omitempty"`
}

// TransactionInfo is the full node's gettransactioninfobyid response
type TransactionInfo struct {
	ID              string          `json:"id"`
	Fee             int64           `json:"fee,omitempty"`
	BlockNumber     int64           `json:"blockNumber"`
	BlockTimeStamp  int64           `json:"blockTimeStamp"`
	ContractResult  []string        `json:"contractResult,omitempty"`
	ContractAddress string          `json:"contract_address,omitempty"`
	Receipt         ResourceReceipt `json:"receipt"`
	Log             []Log           `json:"log,omitempty"`
	Result          string          `json:"result,omitempty"` // FAILED when the call reverted
	ResMessage      string          `json:"resMessage,omitempty"`
}

// Failed reports whether the node recorded the transaction as failed
func (i *TransactionInfo) Failed() bool {
	return i != nil && i.Result == "FAILED"
}

// Found reports whether the node knows the transaction
func (i *TransactionInfo) Found() bool {
	return i != nil && i.ID != ""
}

// ResourceReceipt is the energy and bandwidth accounting of a transaction
type ResourceReceipt struct {
	EnergyUsage      int64  `json:"energy_usage,omitempty"`
	EnergyFee        int64  `json:"energy_fee,omitempty"`
	EnergyUsageTotal int64  `json:"energy_usage_total,omitempty"`
	NetUsage         int64  `json:"net_usage,omitempty"`
	NetFee           int64  `json:"net_fee,omitempty"`
	Result           string `json:"result,omitempty"`
}

// Log is an event log with hex encoded topics and data
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data,omitempty"`
}

// Transaction is the full node's JSON transaction representation
type Transaction struct {
	Visible    bool            `json:"visible"`
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature,omitempty"`
}
