package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const walletStoreDir = "wallets"

type walletRepository struct {
	store *badgerhold.Store
}

func NewWalletRepository(config ...interface{}) (domain.WalletRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, walletStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %s", err)
	}

	return &walletRepository{store}, nil
}

func (r *walletRepository) AddWallet(
	ctx context.Context, wallet domain.Wallet,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, wallet.Id, wallet)
	}
	return r.store.Insert(wallet.Id, wallet)
}

func (r *walletRepository) GetWallet(
	ctx context.Context, id string,
) (*domain.Wallet, error) {
	var wallet domain.Wallet
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, id, &wallet)
	} else {
		err = r.store.Get(id, &wallet)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("wallet %s not found", id)
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) GetWalletByTaprootAddress(
	ctx context.Context, address string,
) (*domain.Wallet, error) {
	query := badgerhold.Where("TaprootAddress").Eq(address)
	wallets, err := r.findWallets(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("wallet with taproot address %s not found", address)
	}
	return &wallets[0], nil
}

// maxUpdateAttempts bounds the retries on badger's optimistic-concurrency
// conflicts before the error is surfaced to the caller.
const maxUpdateAttempts = 32

// UpdateWallet runs updateFn inside a single badger transaction: the read,
// the closure and the write are not interleaved with concurrent updates of
// the same wallet record. Badger transactions are optimistic, so a commit
// racing another writer fails with ErrConflict; the whole read-modify-write
// is retried from a fresh snapshot until it commits or the attempts run out.
func (r *walletRepository) UpdateWallet(
	ctx context.Context, id string, updateFn func(*domain.Wallet) (*domain.Wallet, error),
) error {
	var err error
	for i := 0; i < maxUpdateAttempts; i++ {
		err = r.store.Badger().Update(func(tx *badger.Txn) error {
			var wallet domain.Wallet
			if err := r.store.TxGet(tx, id, &wallet); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("wallet %s not found", id)
				}
				return err
			}

			updated, err := updateFn(&wallet)
			if err != nil {
				return err
			}

			return r.store.TxUpdate(tx, id, *updated)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (r *walletRepository) GetLockedWallets(
	ctx context.Context,
) ([]domain.Wallet, error) {
	query := badgerhold.Where("SettlementInProgress").Eq(true)
	return r.findWallets(ctx, query)
}

func (r *walletRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *walletRepository) findWallets(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Wallet, error) {
	var wallets []domain.Wallet
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &wallets, query)
	} else {
		err = r.store.Find(&wallets, query)
	}

	return wallets, err
}
