package sellDetector

import (
	"sort"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/shopspring/decimal"
)

func isQuoteMint(mint string) bool {
	return mint == config.SolMint || mint == config.UsdcMint
}

// Parser turns Helius enhanced transactions into TransactionEvents and
// creator reward observations.
type Parser struct {
	tokenMint     string
	creatorWallet string
}

func NewParser(tokenMint, creatorWallet string) *Parser {
	return &Parser{tokenMint: tokenMint, creatorWallet: creatorWallet}
}

type walletLeg struct {
	wallet    string
	direction Direction
}

func (p *Parser) swapContext(tx *EnhancedTransaction) (isSwap bool, knownDex bool) {
	isSwap = tx.Type == TxType_Swap || (tx.Events != nil && tx.Events.Swap != nil)
	_, knownDex = dexSources[tx.Source]
	return isSwap, knownDex
}

// otherLeg returns the mint the wallet received (for a sale) or paid (for a
// purchase) besides COPPER. SOL and USDC win over any other mint.
func (p *Parser) otherLeg(tx *EnhancedTransaction, wallet string, direction Direction) string {
	other := ""
	for _, t := range tx.TokenTransfers {
		if t.Mint == p.tokenMint {
			continue
		}
		matches := (direction == Direction_Out && t.ToUserAccount == wallet) ||
			(direction == Direction_In && t.FromUserAccount == wallet)
		if !matches {
			continue
		}
		if isQuoteMint(t.Mint) {
			return t.Mint
		}
		if other == "" {
			other = t.Mint
		}
	}
	for _, n := range tx.NativeTransfers {
		if n.Amount == 0 {
			continue
		}
		if (direction == Direction_Out && n.ToUserAccount == wallet) ||
			(direction == Direction_In && n.FromUserAccount == wallet) {
			return config.SolMint
		}
	}
	return other
}

func (p *Parser) counterparty(tx *EnhancedTransaction, peer string, quote string) CounterpartyType {
	isSwap, knownDex := p.swapContext(tx)
	switch {
	case quote != "" && isSwap:
		return Counterparty_LiquidityPool
	case quote != "" && knownDex:
		return Counterparty_SwapProgram
	case quote != "":
		// value came back without a recognisable venue
		return Counterparty_Unknown
	case isSwap || knownDex:
		return Counterparty_Unknown
	case peer != "" && (tx.Type == TxType_Transfer || tx.Type == ""):
		return Counterparty_Wallet
	default:
		return Counterparty_Unknown
	}
}

// traders picks the wallets whose legs of a swap belong to the user: the fee
// payer when it moved COPPER, otherwise the wallets trading against the swap
// event's venue account. ok is false when neither identifies the trader.
func (p *Parser) traders(tx *EnhancedTransaction, peers map[walletLeg]string) (map[string]bool, bool) {
	for k := range peers {
		if tx.FeePayer != "" && k.wallet == tx.FeePayer {
			return map[string]bool{tx.FeePayer: true}, true
		}
	}
	venue := ""
	if tx.Events != nil && tx.Events.Swap != nil && tx.Events.Swap.ProgramInfo != nil {
		venue = tx.Events.Swap.ProgramInfo.Account
	}
	if venue == "" {
		return nil, false
	}
	out := make(map[string]bool)
	for k, peer := range peers {
		if peer == venue && k.wallet != venue {
			out[k.wallet] = true
		}
	}
	return out, len(out) > 0
}

// Events extracts one TransactionEvent per wallet and direction from the
// COPPER transfers in tx. In a swap only the trader's legs are returned; the
// venue's side of the trade is not a user movement. When the trader cannot be
// identified every outgoing leg is reported with an unknown counterparty.
func (p *Parser) Events(tx *EnhancedTransaction) []*TransactionEvent {
	amounts := make(map[walletLeg]decimal.Decimal)
	peers := make(map[walletLeg]string)
	for _, t := range tx.TokenTransfers {
		if t.Mint != p.tokenMint || !t.TokenAmount.IsPositive() {
			continue
		}
		if t.FromUserAccount != "" {
			k := walletLeg{wallet: t.FromUserAccount, direction: Direction_Out}
			amounts[k] = amounts[k].Add(t.TokenAmount)
			peers[k] = t.ToUserAccount
		}
		if t.ToUserAccount != "" {
			k := walletLeg{wallet: t.ToUserAccount, direction: Direction_In}
			amounts[k] = amounts[k].Add(t.TokenAmount)
			peers[k] = t.FromUserAccount
		}
	}

	ts := time.Unix(tx.Timestamp, 0).UTC()
	if tx.Timestamp == 0 {
		ts = time.Time{}
	}
	var traders map[string]bool
	resolved := true
	if isSwap, knownDex := p.swapContext(tx); isSwap || knownDex {
		traders, resolved = p.traders(tx, peers)
	}

	events := make([]*TransactionEvent, 0, len(amounts))
	for k, amount := range amounts {
		if resolved && traders != nil && !traders[k.wallet] {
			continue
		}
		quote := p.otherLeg(tx, k.wallet, k.direction)
		counterparty := p.counterparty(tx, peers[k], quote)
		if !resolved && k.direction == Direction_Out {
			counterparty = Counterparty_Unknown
		}
		events = append(events, &TransactionEvent{
			Wallet:           k.wallet,
			TxSignature:      tx.Signature,
			Direction:        k.direction,
			CounterpartyType: counterparty,
			QuoteMint:        quote,
			Amount:           utils.FromUiAmount(amount, config.CopperDecimals),
			Timestamp:        ts,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Wallet != events[j].Wallet {
			return events[i].Wallet < events[j].Wallet
		}
		return events[i].Direction < events[j].Direction
	})
	return events
}

// CreatorReward returns the creator fee carried by tx, or nil when tx does
// not pay the creator wallet from a pump.fun program.
func (p *Parser) CreatorReward(tx *EnhancedTransaction) *storage.CreatorReward {
	if p.creatorWallet == "" {
		return nil
	}
	var source string
	switch tx.Source {
	case Source_PumpFun:
		source = storage.CreatorRewardSource_PumpFun
	case Source_PumpAmm:
		source = storage.CreatorRewardSource_PumpSwap
	default:
		return nil
	}
	var lamports uint64
	for _, n := range tx.NativeTransfers {
		if n.ToUserAccount == p.creatorWallet && n.FromUserAccount != p.creatorWallet {
			lamports += n.Amount
		}
	}
	if lamports == 0 {
		return nil
	}
	reward := &storage.CreatorReward{
		AmountSol:  utils.ToUiAmount(lamports, 9),
		Source:     source,
		ReceivedAt: time.Unix(tx.Timestamp, 0).UTC(),
	}
	if tx.Signature != "" {
		sig := tx.Signature
		reward.TxSignature = &sig
	}
	return reward
}
