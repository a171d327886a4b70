package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/internal/core/ports"
	"github.com/taphub/taphubd/internal/infrastructure/db"
)

func newRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()

	// empty base dir opens the stores in memory
	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "badger",
		DataStoreConfig: []interface{}{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewServiceRejectsUnknownType(t *testing.T) {
	_, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "cockroach",
		DataStoreConfig: []interface{}{"", nil},
	})
	require.Error(t, err)
}

func TestWalletRepository(t *testing.T) {
	repoManager := newRepoManager(t)
	ctx := context.Background()

	wallet := domain.NewWallet("userpk", "hubpk", "bcrt1qfunding", "bcrt1ptaproot")
	require.NoError(t, repoManager.Wallets().AddWallet(ctx, *wallet))

	t.Run("get by id", func(t *testing.T) {
		got, err := repoManager.Wallets().GetWallet(ctx, wallet.Id)
		require.NoError(t, err)
		require.Equal(t, wallet.Id, got.Id)
		require.Equal(t, "bcrt1ptaproot", got.TaprootAddress)
		require.Equal(t, domain.SettlementStageIdle, got.Stage)
	})

	t.Run("get by taproot address", func(t *testing.T) {
		got, err := repoManager.Wallets().GetWalletByTaprootAddress(ctx, "bcrt1ptaproot")
		require.NoError(t, err)
		require.Equal(t, wallet.Id, got.Id)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := repoManager.Wallets().GetWallet(ctx, "missing")
		require.Error(t, err)
	})

	t.Run("update is atomic", func(t *testing.T) {
		const workers = 10
		wg := sync.WaitGroup{}
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				err := repoManager.Wallets().UpdateWallet(
					ctx, wallet.Id, func(w *domain.Wallet) (*domain.Wallet, error) {
						w.L2Balance += 1000
						return w, nil
					},
				)
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repoManager.Wallets().GetWallet(ctx, wallet.Id)
		require.NoError(t, err)
		require.Equal(t, int64(workers*1000), got.L2Balance)
	})

	t.Run("update error rolls back", func(t *testing.T) {
		before, err := repoManager.Wallets().GetWallet(ctx, wallet.Id)
		require.NoError(t, err)

		err = repoManager.Wallets().UpdateWallet(
			ctx, wallet.Id, func(w *domain.Wallet) (*domain.Wallet, error) {
				w.L2Balance = 0
				return nil, errors.New("abort the update")
			},
		)
		require.Error(t, err)

		after, err := repoManager.Wallets().GetWallet(ctx, wallet.Id)
		require.NoError(t, err)
		require.Equal(t, before.L2Balance, after.L2Balance)
	})

	t.Run("locked wallets", func(t *testing.T) {
		locked, err := repoManager.Wallets().GetLockedWallets(ctx)
		require.NoError(t, err)
		require.Empty(t, locked)

		require.NoError(t, repoManager.Wallets().UpdateWallet(
			ctx, wallet.Id, func(w *domain.Wallet) (*domain.Wallet, error) {
				require.NoError(t, w.LockForSettlement())
				w.MarkBroadcast("txid123")
				return w, nil
			},
		))

		locked, err = repoManager.Wallets().GetLockedWallets(ctx)
		require.NoError(t, err)
		require.Len(t, locked, 1)
		require.Equal(t, "txid123", locked[0].PendingSettlementTxid)
	})
}

func TestDepositRepository(t *testing.T) {
	repoManager := newRepoManager(t)
	ctx := context.Background()

	deposit := domain.NewDeposit("wallet1", "txid1", 100_000)
	require.NoError(t, repoManager.Deposits().AddDeposit(ctx, *deposit))

	t.Run("lookup by txid", func(t *testing.T) {
		got, err := repoManager.Deposits().GetDepositByTxid(ctx, "wallet1", "txid1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, int64(100_000), got.Amount)
		require.Equal(t, domain.DepositStatusPending, got.Status)
	})

	t.Run("absent txid yields nil without error", func(t *testing.T) {
		got, err := repoManager.Deposits().GetDepositByTxid(ctx, "wallet1", "other")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("confirm and update", func(t *testing.T) {
		got, err := repoManager.Deposits().GetDepositByTxid(ctx, "wallet1", "txid1")
		require.NoError(t, err)

		require.True(t, got.Confirm(6, 1_700_000_000))
		require.NoError(t, repoManager.Deposits().UpdateDeposit(ctx, *got))

		deposits, err := repoManager.Deposits().GetDepositsForWallet(ctx, "wallet1")
		require.NoError(t, err)
		require.Len(t, deposits, 1)
		require.Equal(t, domain.DepositStatusConfirmed, deposits[0].Status)
		require.Equal(t, int64(1_700_000_000), deposits[0].ConfirmedAt)
		require.True(t, deposits[0].Spendable())
	})
}

func TestCommitmentRepository(t *testing.T) {
	repoManager := newRepoManager(t)
	ctx := context.Background()

	first := domain.NewCommitment("wallet1", "merchant1", 40_000, 50, "psbt1")
	second := domain.NewCommitment("wallet1", "merchant2", 10_000, 50, "psbt2")
	second.CreatedAt = first.CreatedAt + 1

	require.NoError(t, repoManager.Commitments().AddCommitment(ctx, *first))
	require.NoError(t, repoManager.Commitments().AddCommitment(ctx, *second))

	t.Run("list most recent first", func(t *testing.T) {
		commitments, err := repoManager.Commitments().
			GetCommitmentsForWallet(ctx, "wallet1")
		require.NoError(t, err)
		require.Len(t, commitments, 2)
		require.Equal(t, second.Id, commitments[0].Id)
		require.Equal(t, first.Id, commitments[1].Id)
	})

	t.Run("latest", func(t *testing.T) {
		latest, err := repoManager.Commitments().GetLatestCommitment(ctx, "wallet1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.Equal(t, second.Id, latest.Id)
	})

	t.Run("no commitments yields nil without error", func(t *testing.T) {
		latest, err := repoManager.Commitments().GetLatestCommitment(ctx, "wallet2")
		require.NoError(t, err)
		require.Nil(t, latest)
	})

	t.Run("settlement lifecycle", func(t *testing.T) {
		got, err := repoManager.Commitments().GetCommitment(ctx, first.Id)
		require.NoError(t, err)

		require.NoError(t, got.AttachSignature("signedpsbt"))
		require.NoError(t, repoManager.Commitments().UpdateCommitment(ctx, *got))

		got.MarkSettled("settletxid", 0)
		require.NoError(t, repoManager.Commitments().UpdateCommitment(ctx, *got))

		pending, err := repoManager.Commitments().
			GetCommitmentsBySettlementTxid(ctx, "settletxid")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, first.Id, pending[0].Id)
		require.True(t, pending[0].Settled)
		require.Zero(t, pending[0].SettlementConfirmedAt)
	})
}
