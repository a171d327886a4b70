package application

import (
	"fmt"

	"github.com/taphub/taphubd/pkg/channel"
)

type errCommitmentNotFound struct {
	id string
}

func (e errCommitmentNotFound) Error() string {
	return fmt.Sprintf("commitment %s not found", e.id)
}

type errNoCommitmentToSettle struct {
	walletId string
}

func (e errNoCommitmentToSettle) Error() string {
	return fmt.Sprintf("wallet %s has no commitment to settle", e.walletId)
}

// ErrInsufficientBalance reports a ledger-level shortfall: the wallet's
// reconciled balance cannot cover the payment plus its fee.
type ErrInsufficientBalance struct {
	Required  int64
	Available int64
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf(
		"insufficient balance: required %s, available %s",
		channel.FormatAmount(e.Required), channel.FormatAmount(e.Available),
	)
}

// ErrSettlementInProgress rejects any operation that would mutate a wallet
// while its settlement is in flight.
type ErrSettlementInProgress struct {
	WalletId string
	Txid     string
}

func (e ErrSettlementInProgress) Error() string {
	if len(e.Txid) > 0 {
		return fmt.Sprintf(
			"wallet %s has a settlement in progress (txid %s)", e.WalletId, e.Txid,
		)
	}
	return fmt.Sprintf("wallet %s has a settlement in progress", e.WalletId)
}

// ErrBroadcastRejected carries the raw indexer diagnostic together with the
// offending transaction and its witnesses.
type ErrBroadcastRejected struct {
	Reason       error
	TxHex        string
	WitnessHexes []string
}

func (e ErrBroadcastRejected) Error() string {
	return fmt.Sprintf("settlement broadcast rejected: %s", e.Reason)
}

func (e ErrBroadcastRejected) Unwrap() error {
	return e.Reason
}
