package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const depositStoreDir = "deposits"

type depositRepository struct {
	store *badgerhold.Store
}

func NewDepositRepository(config ...interface{}) (domain.DepositRepository, error) {
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
		dir = filepath.Join(baseDir, depositStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open deposit store: %s", err)
	}

	return &depositRepository{store}, nil
}

func (r *depositRepository) AddDeposit(
	ctx context.Context, deposit domain.Deposit,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, deposit.Id, deposit)
	}
	return r.store.Insert(deposit.Id, deposit)
}

func (r *depositRepository) GetDepositByTxid(
	ctx context.Context, walletId, txid string,
) (*domain.Deposit, error) {
	query := badgerhold.Where("WalletId").Eq(walletId).And("Txid").Eq(txid)
	deposits, err := r.findDeposits(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(deposits) == 0 {
		return nil, nil
	}
	return &deposits[0], nil
}

func (r *depositRepository) GetDepositsForWallet(
	ctx context.Context, walletId string,
) ([]domain.Deposit, error) {
	query := badgerhold.Where("WalletId").Eq(walletId)
	return r.findDeposits(ctx, query)
}

func (r *depositRepository) UpdateDeposit(
	ctx context.Context, deposit domain.Deposit,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpdate(tx, deposit.Id, deposit)
	}
	return r.store.Update(deposit.Id, deposit)
}

func (r *depositRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *depositRepository) findDeposits(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Deposit, error) {
	var deposits []domain.Deposit
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &deposits, query)
	} else {
		err = r.store.Find(&deposits, query)
	}

	return deposits, err
}
