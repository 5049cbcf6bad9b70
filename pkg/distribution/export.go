package distribution

import (
	"io"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/gocarina/gocsv"
)

// RecipientRow is the CSV shape of one distribution recipient.
type RecipientRow struct {
	DistributionId uint64 `csv:"distribution_id"`
	Wallet         string `csv:"wallet"`
	Twab           string `csv:"twab"`
	Multiplier     string `csv:"multiplier"`
	HashPower      string `csv:"hash_power"`
	AmountRaw      uint64 `csv:"amount_raw"`
	Amount         string `csv:"amount"`
	TxSignature    string `csv:"tx_signature"`
	PayoutAttempts int    `csv:"payout_attempts"`
	PaidAt         string `csv:"paid_at"`
}

func NewRecipientRow(r *storage.DistributionRecipient) *RecipientRow {
	row := &RecipientRow{
		DistributionId: r.DistributionId,
		Wallet:         r.Wallet,
		Twab:           r.Twab.String(),
		Multiplier:     r.Multiplier.String(),
		HashPower:      r.HashPower.String(),
		AmountRaw:      r.AmountReceived,
		Amount:         utils.ToUiAmount(r.AmountReceived, config.CopperDecimals).String(),
		PayoutAttempts: r.PayoutAttempts,
	}
	if r.TxSignature != nil {
		row.TxSignature = *r.TxSignature
	}
	if r.PaidAt != nil {
		row.PaidAt = r.PaidAt.UTC().Format(time.RFC3339)
	}
	return row
}

// ExportRecipientsCSV writes recipients to w with a header row.
func ExportRecipientsCSV(w io.Writer, recipients []*storage.DistributionRecipient) error {
	rows := make([]*RecipientRow, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, NewRecipientRow(r))
	}
	return gocsv.Marshal(rows, w)
}
