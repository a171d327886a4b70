package application

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/pkg/channel"
)

// ComputeBalance derives the authoritative off-chain balance from the ledger
// of deposits and commitments. Pure function: safe to call concurrently and
// repeatedly. All arithmetic is in integer satoshis.
//
// With no settled commitment, every confirmed unconsumed deposit counts.
// Once at least one commitment settled, deposits confirmed at or before the
// most recent settlement confirmation time T are absorbed by that settlement
// and excluded. Settled commitments still awaiting confirmation carry no
// timestamp and are ignored when computing T.
func ComputeBalance(
	deposits []domain.Deposit, commitments []domain.Commitment,
) int64 {
	hasSettled := false
	latestSettlementTime := int64(0)
	unsettledTotal := int64(0)

	for _, c := range commitments {
		if !c.Settled {
			unsettledTotal += c.Amount + c.Fee
			continue
		}
		hasSettled = true
		if c.SettlementConfirmedAt > latestSettlementTime {
			latestSettlementTime = c.SettlementConfirmedAt
		}
	}

	depositTotal := int64(0)
	for _, d := range deposits {
		if !d.Spendable() {
			continue
		}
		if hasSettled && d.ConfirmedAt <= latestSettlementTime {
			continue
		}
		depositTotal += d.Amount
	}

	return depositTotal - unsettledTotal
}

// reconcileBalance recomputes the wallet's balance from stored facts and
// writes the cache back only when the value differs.
func (s *service) reconcileBalance(ctx context.Context, walletId string) error {
	deposits, err := s.repoManager.Deposits().GetDepositsForWallet(ctx, walletId)
	if err != nil {
		return err
	}
	commitments, err := s.repoManager.Commitments().
		GetCommitmentsForWallet(ctx, walletId)
	if err != nil {
		return err
	}

	balance := ComputeBalance(deposits, commitments)

	return s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			if w.L2Balance == balance {
				return w, nil
			}
			log.Debugf(
				"reconciled balance for wallet %s: %s -> %s",
				walletId,
				channel.FormatAmount(w.L2Balance), channel.FormatAmount(balance),
			)
			w.L2Balance = balance
			return w, nil
		},
	)
}
