package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Commitment is an off-chain, hub-co-signed payment against a merchant.
// Amount and Fee are immutable once created; the only mutations allowed are
// attaching the user's signature and, later, the settlement fields.
type Commitment struct {
	Id              string
	WalletId        string
	MerchantAddress string
	Amount          int64
	Fee             int64

	UnsignedTx string
	SignedTx   string

	Settled               bool
	SettlementTxid        string
	SettlementConfirmedAt int64

	CreatedAt int64
}

func NewCommitment(
	walletId, merchantAddress string, amount, fee int64, unsignedTx string,
) *Commitment {
	return &Commitment{
		Id:              uuid.New().String(),
		WalletId:        walletId,
		MerchantAddress: merchantAddress,
		Amount:          amount,
		Fee:             fee,
		UnsignedTx:      unsignedTx,
		CreatedAt:       time.Now().Unix(),
	}
}

func (c *Commitment) Signed() bool {
	return len(c.SignedTx) > 0
}

func (c *Commitment) AttachSignature(signedTx string) error {
	if c.Settled {
		return fmt.Errorf("commitment %s is already settled", c.Id)
	}
	if len(signedTx) == 0 {
		return fmt.Errorf("empty signed transaction")
	}
	c.SignedTx = signedTx
	return nil
}

// MarkSettled attaches the settlement txid. confirmedAt is zero while the
// settlement is still awaiting confirmation.
func (c *Commitment) MarkSettled(txid string, confirmedAt int64) {
	c.Settled = true
	c.SettlementTxid = txid
	c.SettlementConfirmedAt = confirmedAt
}

// RevertSettlement returns the commitment to the unsettled state after its
// settlement transaction was evicted from the mempool.
func (c *Commitment) RevertSettlement() {
	c.Settled = false
	c.SettlementTxid = ""
	c.SettlementConfirmedAt = 0
}
