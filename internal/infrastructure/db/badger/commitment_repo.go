package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const commitmentStoreDir = "commitments"

type commitmentRepository struct {
	store *badgerhold.Store
}

func NewCommitmentRepository(config ...interface{}) (domain.CommitmentRepository, error) {
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
		dir = filepath.Join(baseDir, commitmentStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open commitment store: %s", err)
	}

	return &commitmentRepository{store}, nil
}

func (r *commitmentRepository) AddCommitment(
	ctx context.Context, commitment domain.Commitment,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, commitment.Id, commitment)
	}
	return r.store.Insert(commitment.Id, commitment)
}

func (r *commitmentRepository) GetCommitment(
	ctx context.Context, id string,
) (*domain.Commitment, error) {
	var commitment domain.Commitment
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, id, &commitment)
	} else {
		err = r.store.Get(id, &commitment)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("commitment %s not found", id)
		}
		return nil, err
	}
	return &commitment, nil
}

func (r *commitmentRepository) GetCommitmentsForWallet(
	ctx context.Context, walletId string,
) ([]domain.Commitment, error) {
	query := badgerhold.Where("WalletId").Eq(walletId)
	commitments, err := r.findCommitments(ctx, query)
	if err != nil {
		return nil, err
	}

	sort.Slice(commitments, func(i, j int) bool {
		return commitments[i].CreatedAt > commitments[j].CreatedAt
	})
	return commitments, nil
}

func (r *commitmentRepository) GetLatestCommitment(
	ctx context.Context, walletId string,
) (*domain.Commitment, error) {
	commitments, err := r.GetCommitmentsForWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}
	if len(commitments) == 0 {
		return nil, nil
	}
	return &commitments[0], nil
}

func (r *commitmentRepository) GetCommitmentsBySettlementTxid(
	ctx context.Context, txid string,
) ([]domain.Commitment, error) {
	query := badgerhold.Where("SettlementTxid").Eq(txid)
	return r.findCommitments(ctx, query)
}

func (r *commitmentRepository) UpdateCommitment(
	ctx context.Context, commitment domain.Commitment,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpdate(tx, commitment.Id, commitment)
	}
	return r.store.Update(commitment.Id, commitment)
}

func (r *commitmentRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *commitmentRepository) findCommitments(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Commitment, error) {
	var commitments []domain.Commitment
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &commitments, query)
	} else {
		err = r.store.Find(&commitments, query)
	}

	return commitments, err
}
