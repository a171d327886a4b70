package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/internal/core/ports"
	"github.com/taphub/taphubd/pkg/channel"
)

// Settle collapses the wallet's outstanding commitments into one on-chain
// transaction. The per-wallet lock is taken before any signing happens and,
// once the transaction is broadcast, stays held until the settlement either
// confirms or is rolled back by the reconciliation sweep. Before broadcast,
// every error path releases the lock.
func (s *service) Settle(
	ctx context.Context, walletId string,
) (*SettlementResult, error) {
	commitment, err := s.repoManager.Commitments().GetLatestCommitment(ctx, walletId)
	if err != nil {
		return nil, err
	}
	if commitment == nil {
		return nil, errNoCommitmentToSettle{walletId}
	}
	if commitment.Settled {
		return nil, fmt.Errorf(
			"latest commitment %s is already settled", commitment.Id,
		)
	}
	if !commitment.Signed() {
		return nil, fmt.Errorf(
			"latest commitment %s is not signed by the user", commitment.Id,
		)
	}

	// Idle -> Locked, a single check-then-set inside the wallet transaction
	if err := s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			if err := w.LockForSettlement(); err != nil {
				return nil, ErrSettlementInProgress{
					WalletId: w.Id, Txid: w.PendingSettlementTxid,
				}
			}
			return w, nil
		},
	); err != nil {
		return nil, err
	}

	broadcasted := false
	defer func() {
		if broadcasted {
			return
		}
		// a stuck lock permanently blocks the wallet, release it on every
		// pre-broadcast failure
		if unlockErr := s.repoManager.Wallets().UpdateWallet(
			ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
				w.Unlock()
				return w, nil
			},
		); unlockErr != nil {
			log.WithError(unlockErr).Errorf(
				"failed to release settlement lock for wallet %s", walletId,
			)
		}
	}()

	unsigned, err := channel.DecodePsbt(commitment.UnsignedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored unsigned psbt: %w", err)
	}

	finalized, err := channel.FinalizeWithHub(unsigned, commitment.SignedTx, s.hubPrvkey)
	if err != nil {
		return nil, err
	}

	txid, err := s.indexer.Broadcast(ctx, finalized.TxHex)
	if err != nil {
		return nil, ErrBroadcastRejected{
			Reason:       err,
			TxHex:        finalized.TxHex,
			WitnessHexes: finalized.WitnessHexes,
		}
	}
	if len(txid) == 0 {
		txid = finalized.Txid
	}

	// Locked -> Broadcast; the persisted txid lets a concurrent or restarted
	// process recognize the in-flight settlement
	if err := s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			w.MarkBroadcast(txid)
			return w, nil
		},
	); err != nil {
		return nil, err
	}
	broadcasted = true

	log.Infof("settlement %s broadcast for wallet %s", txid, walletId)

	return s.waitForConfirmation(ctx, walletId, txid)
}

// waitForConfirmation polls the indexer at a fixed interval up to a bounded
// number of attempts. Fetch failures are retried on the next tick, never
// treated as terminal.
func (s *service) waitForConfirmation(
	ctx context.Context, walletId, txid string,
) (*SettlementResult, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		<-ticker.C

		status, err := s.indexer.GetTxStatus(ctx, txid)
		if err != nil {
			log.WithError(err).Debugf(
				"settlement %s: status fetch failed, retrying", txid,
			)
			continue
		}
		if !status.Confirmed {
			continue
		}

		if err := s.completeSettlement(ctx, walletId, txid, status.BlockTime); err != nil {
			return nil, err
		}

		log.Infof(
			"settlement %s confirmed for wallet %s at %d",
			txid, walletId, status.BlockTime,
		)
		return &SettlementResult{
			Txid:        txid,
			Confirmed:   true,
			ConfirmedAt: status.BlockTime,
		}, nil
	}

	// Broadcast -> TimedOut: commitments are attached to the txid so a
	// restart recognizes them as pending settlement instead of creating a
	// duplicate; the balance stays and the lock stays held until the sweep
	// resolves the transaction's fate
	if err := s.markSettlementPending(ctx, walletId, txid); err != nil {
		return nil, err
	}

	log.Warnf(
		"settlement %s for wallet %s unconfirmed after %d attempts, "+
			"deferring to reconciliation sweep",
		txid, walletId, s.pollAttempts,
	)
	return &SettlementResult{Txid: txid, Confirmed: false}, nil
}

// completeSettlement applies a confirmed settlement to the ledger: every
// unsettled commitment is marked settled with the settlement's chain time,
// deposits confirmed at or before that time are consumed, the cached balance
// is reset and the lock cleared.
func (s *service) completeSettlement(
	ctx context.Context, walletId, txid string, blockTime int64,
) error {
	commitments, err := s.repoManager.Commitments().
		GetCommitmentsForWallet(ctx, walletId)
	if err != nil {
		return err
	}
	for _, c := range commitments {
		pendingThisTxid := c.Settled &&
			c.SettlementTxid == txid && c.SettlementConfirmedAt == 0
		if c.Settled && !pendingThisTxid {
			continue
		}
		c.MarkSettled(txid, blockTime)
		if err := s.repoManager.Commitments().UpdateCommitment(ctx, c); err != nil {
			return err
		}
	}

	deposits, err := s.repoManager.Deposits().GetDepositsForWallet(ctx, walletId)
	if err != nil {
		return err
	}
	for _, d := range deposits {
		if d.Consumed || d.Status != domain.DepositStatusConfirmed {
			continue
		}
		if d.ConfirmedAt > blockTime {
			continue
		}
		d.Consumed = true
		if err := s.repoManager.Deposits().UpdateDeposit(ctx, d); err != nil {
			return err
		}
	}

	return s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			w.CompleteSettlement()
			return w, nil
		},
	)
}

// markSettlementPending records the timed-out settlement on every unsettled
// commitment without a confirmation time, and moves the wallet to TimedOut.
func (s *service) markSettlementPending(
	ctx context.Context, walletId, txid string,
) error {
	commitments, err := s.repoManager.Commitments().
		GetCommitmentsForWallet(ctx, walletId)
	if err != nil {
		return err
	}
	for _, c := range commitments {
		if c.Settled {
			continue
		}
		c.MarkSettled(txid, 0)
		if err := s.repoManager.Commitments().UpdateCommitment(ctx, c); err != nil {
			return err
		}
	}

	return s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			w.TimeoutSettlement()
			return w, nil
		},
	)
}

// reconcilePendingSettlements re-polls every in-flight settlement. A
// confirmed txid completes as usual; a txid the indexer definitively no
// longer knows about was evicted from the mempool, so its commitments revert
// to unsettled and the wallet is released. Transient indexer failures wait
// for the next run.
func (s *service) reconcilePendingSettlements(ctx context.Context) {
	wallets, err := s.repoManager.Wallets().GetLockedWallets(ctx)
	if err != nil {
		log.WithError(err).Warn("settlement sweep: failed to list locked wallets")
		return
	}

	for _, wallet := range wallets {
		if len(wallet.PendingSettlementTxid) == 0 {
			continue
		}
		txid := wallet.PendingSettlementTxid

		status, err := s.indexer.GetTxStatus(ctx, txid)
		if err != nil {
			if errors.Is(err, ports.ErrTxNotFound) {
				if err := s.rollbackSettlement(ctx, wallet.Id, txid); err != nil {
					log.WithError(err).Errorf(
						"settlement sweep: failed to roll back %s", txid,
					)
				}
				continue
			}
			log.WithError(err).Debugf(
				"settlement sweep: status fetch failed for %s, retrying next run", txid,
			)
			continue
		}

		if !status.Confirmed {
			continue
		}

		if err := s.completeSettlement(
			ctx, wallet.Id, txid, status.BlockTime,
		); err != nil {
			log.WithError(err).Errorf(
				"settlement sweep: failed to complete settlement %s", txid,
			)
			continue
		}
		log.Infof("settlement sweep: settlement %s confirmed for wallet %s",
			txid, wallet.Id)
	}
}

// rollbackSettlement reverts commitments attached to an evicted settlement
// txid and releases the wallet, allowing new commitments and settlements.
func (s *service) rollbackSettlement(
	ctx context.Context, walletId, txid string,
) error {
	commitments, err := s.repoManager.Commitments().
		GetCommitmentsBySettlementTxid(ctx, txid)
	if err != nil {
		return err
	}
	for _, c := range commitments {
		c.RevertSettlement()
		if err := s.repoManager.Commitments().UpdateCommitment(ctx, c); err != nil {
			return err
		}
	}

	if err := s.repoManager.Wallets().UpdateWallet(
		ctx, walletId, func(w *domain.Wallet) (*domain.Wallet, error) {
			w.RollbackSettlement()
			return w, nil
		},
	); err != nil {
		return err
	}

	log.Warnf(
		"settlement sweep: settlement %s evicted, wallet %s rolled back to unsettled",
		txid, walletId,
	)
	return nil
}
