package sellDetector

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	Direction_In  Direction = "in"
	Direction_Out Direction = "out"
)

type CounterpartyType string

const (
	Counterparty_LiquidityPool CounterpartyType = "liquidity_pool"
	Counterparty_SwapProgram   CounterpartyType = "swap_program"
	Counterparty_Wallet        CounterpartyType = "wallet"
	Counterparty_Unknown       CounterpartyType = "unknown"
)

// TransactionEvent is one wallet's COPPER movement within a transaction.
type TransactionEvent struct {
	Wallet           string
	TxSignature      string
	Direction        Direction
	CounterpartyType CounterpartyType
	// QuoteMint is the mint received (sell) or paid (buy) on the other leg,
	// empty when there is none.
	QuoteMint string
	Amount    uint64
	Timestamp time.Time
}

// EnhancedTransaction is the subset of a Helius enhanced transaction the
// detector reads.
type EnhancedTransaction struct {
	Signature       string             `json:"signature"`
	Type            string             `json:"type"`
	Source          string             `json:"source"`
	FeePayer        string             `json:"feePayer"`
	Timestamp       int64              `json:"timestamp"`
	TokenTransfers  []*TokenTransfer   `json:"tokenTransfers"`
	NativeTransfers []*NativeTransfer  `json:"nativeTransfers"`
	Events          *TransactionEvents `json:"events,omitempty"`
}

type TokenTransfer struct {
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	FromTokenAccount string          `json:"fromTokenAccount"`
	ToTokenAccount   string          `json:"toTokenAccount"`
	TokenAmount      decimal.Decimal `json:"tokenAmount"`
	Mint             string          `json:"mint"`
}

type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          uint64 `json:"amount"`
}

type TransactionEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

type SwapEvent struct {
	ProgramInfo *ProgramInfo `json:"programInfo,omitempty"`
}

type ProgramInfo struct {
	Source      string `json:"source"`
	Account     string `json:"account"`
	ProgramName string `json:"programName"`
}

// Helius transaction types and sources the parser looks at.
const (
	TxType_Swap     = "SWAP"
	TxType_Transfer = "TRANSFER"

	Source_PumpFun = "PUMP_FUN"
	Source_PumpAmm = "PUMP_AMM"
)

// dexSources are Helius source labels of swap programs.
var dexSources = map[string]struct{}{
	"JUPITER":         {},
	"RAYDIUM":         {},
	"ORCA":            {},
	"METEORA":         {},
	"PHOENIX":         {},
	"LIFINITY":        {},
	Source_PumpFun:    {},
	Source_PumpAmm:    {},
	"OPENBOOK":        {},
	"RAYDIUM_CPMM":    {},
	"METEORA_DLMM":    {},
	"ORCA_WHIRLPOOLS": {},
}

// BatchResult summarises one webhook delivery.
type BatchResult struct {
	Transactions   int `json:"transactions"`
	Sells          int `json:"sells"`
	Duplicates     int `json:"duplicates"`
	Untracked      int `json:"untracked"`
	Ambiguous      int `json:"ambiguous"`
	CreatorRewards int `json:"creatorRewards"`
	Errors         int `json:"errors"`
}
