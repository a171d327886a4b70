package domain

import (
	"time"

	"github.com/google/uuid"
)

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
)

// Deposit is an on-chain funding event at the wallet's taproot address.
// Amount is in satoshis. ConfirmedAt is the chain timestamp of the confirming
// block, set only once. A consumed deposit has been absorbed by a completed
// settlement and is permanently excluded from balance computation.
type Deposit struct {
	Id            string
	WalletId      string
	Txid          string
	Amount        int64
	Status        DepositStatus
	Confirmations int64
	ConfirmedAt   int64
	Consumed      bool
	CreatedAt     int64
}

func NewDeposit(walletId, txid string, amount int64) *Deposit {
	return &Deposit{
		Id:        uuid.New().String(),
		WalletId:  walletId,
		Txid:      txid,
		Amount:    amount,
		Status:    DepositStatusPending,
		CreatedAt: time.Now().Unix(),
	}
}

// Confirm updates the deposit's chain status and reports whether anything
// actually changed, so callers can skip redundant writes.
func (d *Deposit) Confirm(confirmations, blockTime int64) bool {
	changed := false
	if d.Status != DepositStatusConfirmed {
		d.Status = DepositStatusConfirmed
		changed = true
	}
	if d.Confirmations != confirmations {
		d.Confirmations = confirmations
		changed = true
	}
	if d.ConfirmedAt == 0 && blockTime > 0 {
		d.ConfirmedAt = blockTime
		changed = true
	}
	return changed
}

// Spendable reports whether the deposit contributes to the off-chain balance.
func (d *Deposit) Spendable() bool {
	return d.Status == DepositStatusConfirmed && !d.Consumed
}
