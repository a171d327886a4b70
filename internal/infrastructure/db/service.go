package db

import (
	"fmt"

	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/internal/core/ports"
	badgerdb "github.com/taphub/taphubd/internal/infrastructure/db/badger"
)

var (
	walletStoreTypes = map[string]func(...interface{}) (domain.WalletRepository, error){
		"badger": badgerdb.NewWalletRepository,
	}
	depositStoreTypes = map[string]func(...interface{}) (domain.DepositRepository, error){
		"badger": badgerdb.NewDepositRepository,
	}
	commitmentStoreTypes = map[string]func(...interface{}) (domain.CommitmentRepository, error){
		"badger": badgerdb.NewCommitmentRepository,
	}
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	walletStore     domain.WalletRepository
	depositStore    domain.DepositRepository
	commitmentStore domain.CommitmentRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	walletStoreFactory, ok := walletStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	depositStoreFactory, ok := depositStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	commitmentStoreFactory, ok := commitmentStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	walletStore, err := walletStoreFactory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet store: %w", err)
	}
	depositStore, err := depositStoreFactory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create deposit store: %w", err)
	}
	commitmentStore, err := commitmentStoreFactory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create commitment store: %w", err)
	}

	return &service{
		walletStore:     walletStore,
		depositStore:    depositStore,
		commitmentStore: commitmentStore,
	}, nil
}

func (s *service) Wallets() domain.WalletRepository {
	return s.walletStore
}

func (s *service) Deposits() domain.DepositRepository {
	return s.depositStore
}

func (s *service) Commitments() domain.CommitmentRepository {
	return s.commitmentStore
}

func (s *service) Close() {
	s.walletStore.Close()
	s.depositStore.Close()
	s.commitmentStore.Close()
}
