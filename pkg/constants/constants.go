package constants

import "time"

const (
	DelayBetweenRPCCalls  = 200                    // delay in milliseconds between RPC endpoint attempts
	ReceiptPollInterval   = 2 * time.Second        // interval between EVM receipt lookups while awaiting inclusion
	SignaturePollInterval = 500 * time.Millisecond // interval between Solana signature status lookups
	TronSettleDelay       = 3 * time.Second        // wait before querying TRON transaction info after a contract call
	HealthCheckTimeout    = 3 * time.Second        // timeout for a single RPC health probe
	BackendTimeout        = 30 * time.Second       // timeout for marketplace backend requests
	TLSHandshakeTimeout   = 10 * time.Second       // timeout for TLS handshake
	ResponseHeaderTimeout = 20 * time.Second       // timeout for response header
	ExpectContinueTimeout = 1 * time.Second        // timeout for expect continue
	MaxResponseBodySize   = 10 * 1024 * 1024       // maximum response body size in bytes (10MB)
)

// SessionStorageKey is the fixed key the last active wallet session is persisted under
const SessionStorageKey = "agentmarket.wallet.session"

// Native currency decimals
const (
	EVMNativeDecimals    = 18
	SolanaNativeDecimals = 9
	TronNativeDecimals   = 6
	LamportsPerSOL       = 1_000_000_000
)

// SolanaRegistrationFee is the proof-of-creation fee charged by the simplified Solana mint
const SolanaRegistrationFee = "0.01"

// PlatformFeePercent is the default marketplace share of a Solana purchase, as a fraction
const PlatformFeePercent = 0.025

// TronDefaultFeeLimit is the energy fee limit in sun attached to TRON contract calls
const TronDefaultFeeLimit = 100_000_000

// Chain identifiers
const (
	ChainEthereum = "eth"
	ChainBase     = "base"
	ChainBNB      = "bnb"
	ChainSolana   = "sol"
	ChainTron     = "tron"
)

// mapping from EVM chain identifier to numeric network ID
var ChainToNetworkID = map[string]int64{
	ChainEthereum: 1,
	ChainBase:     8453,
	ChainBNB:      56,
}

var ChainNames = map[string]string{
	ChainEthereum: "Ethereum",
	ChainBase:     "Base",
	ChainBNB:      "BNB Chain",
	ChainSolana:   "Solana",
	ChainTron:     "TRON",
}

var NativeSymbols = map[string]string{
	ChainEthereum: "ETH",
	ChainBase:     "ETH",
	ChainBNB:      "BNB",
	ChainSolana:   "SOL",
	ChainTron:     "TRX",
}

var OfficialRPCEndpoints = map[string][]string{
	ChainEthereum: {"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
	ChainBase:     {"https://mainnet.base.org", "https://base-rpc.publicnode.com"},
	ChainBNB:      {"https://bsc-dataseed.bnbchain.org", "https://bsc-rpc.publicnode.com"},
	ChainSolana:   {"https://api.mainnet-beta.solana.com"},
	ChainTron:     {"https://api.trongrid.io"},
}

var ExplorerURLs = map[string]string{
	ChainEthereum: "https://etherscan.io",
	ChainBase:     "https://basescan.org",
	ChainBNB:      "https://bscscan.com",
	ChainSolana:   "https://solscan.io",
	ChainTron:     "https://tronscan.org",
}

var NativeNames = map[string]string{
	ChainEthereum: "Ether",
	ChainBase:     "Ether",
	ChainBNB:      "BNB",
	ChainSolana:   "Solana",
	ChainTron:     "Tronix",
}

var NativeDecimals = map[string]int32{
	ChainEthereum: EVMNativeDecimals,
	ChainBase:     EVMNativeDecimals,
	ChainBNB:      EVMNativeDecimals,
	ChainSolana:   SolanaNativeDecimals,
	ChainTron:     TronNativeDecimals,
}
