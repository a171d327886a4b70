package application

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/taphub/taphubd/internal/core/domain"
)

// monitorDeposits ingests the indexer's transaction list for the wallet's
// taproot address into the deposit ledger. It returns whether anything
// changed that could affect the spendable balance. Indexer failures downgrade
// to a skipped cycle; existing records are never touched on failure.
func (s *service) monitorDeposits(ctx context.Context, wallet *domain.Wallet) bool {
	txs, err := s.indexer.GetTransactions(ctx, wallet.TaprootAddress)
	if err != nil {
		log.WithError(err).Warnf(
			"deposit monitor: indexer unavailable for wallet %s, skipping cycle",
			wallet.Id,
		)
		return false
	}

	tip, tipErr := s.indexer.GetChainTip(ctx)
	if tipErr != nil {
		log.WithError(tipErr).Debug("deposit monitor: failed to fetch chain tip")
	}

	changed := false
	for _, tx := range txs {
		received := int64(0)
		for _, out := range tx.Outputs {
			if out.Address == wallet.TaprootAddress {
				received += out.Amount
			}
		}
		// transactions spending from the address without paying it anything
		if received == 0 {
			continue
		}

		confirmations := int64(0)
		if tx.Status.Confirmed {
			confirmations = 1
			if tipErr == nil && tx.Status.BlockHeight > 0 {
				confirmations = tip - tx.Status.BlockHeight + 1
			}
		}

		existing, err := s.repoManager.Deposits().
			GetDepositByTxid(ctx, wallet.Id, tx.Txid)
		if err != nil {
			log.WithError(err).Warnf(
				"deposit monitor: failed to look up deposit %s", tx.Txid,
			)
			continue
		}

		if existing == nil {
			deposit := domain.NewDeposit(wallet.Id, tx.Txid, received)
			if tx.Status.Confirmed {
				deposit.Confirm(confirmations, tx.Status.BlockTime)
			}
			if err := s.repoManager.Deposits().AddDeposit(ctx, *deposit); err != nil {
				log.WithError(err).Warnf(
					"deposit monitor: failed to add deposit %s", tx.Txid,
				)
				continue
			}
			log.Debugf(
				"deposit monitor: new %s deposit %s for wallet %s",
				deposit.Status, tx.Txid, wallet.Id,
			)
			if tx.Status.Confirmed {
				changed = true
			}
			continue
		}

		if !tx.Status.Confirmed {
			continue
		}

		// update only when status or confirmation time actually changed
		wasSpendable := existing.Spendable()
		hadTimestamp := existing.ConfirmedAt > 0
		if !existing.Confirm(confirmations, tx.Status.BlockTime) {
			continue
		}
		if err := s.repoManager.Deposits().UpdateDeposit(ctx, *existing); err != nil {
			log.WithError(err).Warnf(
				"deposit monitor: failed to update deposit %s", tx.Txid,
			)
			continue
		}
		if !wasSpendable || !hadTimestamp {
			changed = true
		}
	}

	return changed
}
