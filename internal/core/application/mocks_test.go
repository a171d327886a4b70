package application_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/internal/core/ports"
)

// The stores below are in-memory stand-ins for the badger repositories,
// serialized with a single mutex so UpdateWallet keeps its check-then-set
// semantics under concurrent callers.

type inmemoryStore struct {
	lock        sync.Mutex
	wallets     map[string]domain.Wallet
	deposits    map[string]domain.Deposit
	commitments []domain.Commitment
}

func newInmemoryStore() *inmemoryStore {
	return &inmemoryStore{
		wallets:  make(map[string]domain.Wallet),
		deposits: make(map[string]domain.Deposit),
	}
}

func (s *inmemoryStore) Wallets() domain.WalletRepository         { return (*walletStore)(s) }
func (s *inmemoryStore) Deposits() domain.DepositRepository       { return (*depositStore)(s) }
func (s *inmemoryStore) Commitments() domain.CommitmentRepository { return (*commitmentStore)(s) }
func (s *inmemoryStore) Close()                                   {}

type walletStore inmemoryStore

func (s *walletStore) AddWallet(_ context.Context, wallet domain.Wallet) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.wallets[wallet.Id] = wallet
	return nil
}

func (s *walletStore) GetWallet(_ context.Context, id string) (*domain.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	wallet, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	return &wallet, nil
}

func (s *walletStore) GetWalletByTaprootAddress(
	_ context.Context, address string,
) (*domain.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, wallet := range s.wallets {
		if wallet.TaprootAddress == address {
			w := wallet
			return &w, nil
		}
	}
	return nil, fmt.Errorf("no wallet with taproot address %s", address)
}

func (s *walletStore) UpdateWallet(
	_ context.Context, id string, updateFn func(*domain.Wallet) (*domain.Wallet, error),
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	wallet, ok := s.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %s not found", id)
	}
	updated, err := updateFn(&wallet)
	if err != nil {
		return err
	}
	s.wallets[id] = *updated
	return nil
}

func (s *walletStore) GetLockedWallets(_ context.Context) ([]domain.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	locked := make([]domain.Wallet, 0)
	for _, wallet := range s.wallets {
		if wallet.Locked() {
			locked = append(locked, wallet)
		}
	}
	return locked, nil
}

func (s *walletStore) Close() {}

type depositStore inmemoryStore

func (s *depositStore) AddDeposit(_ context.Context, deposit domain.Deposit) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deposits[deposit.Id] = deposit
	return nil
}

func (s *depositStore) GetDepositByTxid(
	_ context.Context, walletId, txid string,
) (*domain.Deposit, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, deposit := range s.deposits {
		if deposit.WalletId == walletId && deposit.Txid == txid {
			d := deposit
			return &d, nil
		}
	}
	return nil, nil
}

func (s *depositStore) GetDepositsForWallet(
	_ context.Context, walletId string,
) ([]domain.Deposit, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	deposits := make([]domain.Deposit, 0)
	for _, deposit := range s.deposits {
		if deposit.WalletId == walletId {
			deposits = append(deposits, deposit)
		}
	}
	sort.Slice(deposits, func(i, j int) bool {
		return deposits[i].CreatedAt < deposits[j].CreatedAt
	})
	return deposits, nil
}

func (s *depositStore) UpdateDeposit(_ context.Context, deposit domain.Deposit) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.deposits[deposit.Id]; !ok {
		return fmt.Errorf("deposit %s not found", deposit.Id)
	}
	s.deposits[deposit.Id] = deposit
	return nil
}

func (s *depositStore) Close() {}

type commitmentStore inmemoryStore

func (s *commitmentStore) AddCommitment(
	_ context.Context, commitment domain.Commitment,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.commitments = append(s.commitments, commitment)
	return nil
}

func (s *commitmentStore) GetCommitment(
	_ context.Context, id string,
) (*domain.Commitment, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, commitment := range s.commitments {
		if commitment.Id == id {
			c := commitment
			return &c, nil
		}
	}
	return nil, fmt.Errorf("commitment %s not found", id)
}

func (s *commitmentStore) GetCommitmentsForWallet(
	_ context.Context, walletId string,
) ([]domain.Commitment, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	// insertion order, most recent first
	commitments := make([]domain.Commitment, 0)
	for i := len(s.commitments) - 1; i >= 0; i-- {
		if s.commitments[i].WalletId == walletId {
			commitments = append(commitments, s.commitments[i])
		}
	}
	return commitments, nil
}

func (s *commitmentStore) GetLatestCommitment(
	ctx context.Context, walletId string,
) (*domain.Commitment, error) {
	commitments, err := s.GetCommitmentsForWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}
	if len(commitments) == 0 {
		return nil, nil
	}
	return &commitments[0], nil
}

func (s *commitmentStore) GetCommitmentsBySettlementTxid(
	_ context.Context, txid string,
) ([]domain.Commitment, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	commitments := make([]domain.Commitment, 0)
	for _, commitment := range s.commitments {
		if commitment.SettlementTxid == txid {
			commitments = append(commitments, commitment)
		}
	}
	return commitments, nil
}

func (s *commitmentStore) UpdateCommitment(
	_ context.Context, commitment domain.Commitment,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.commitments {
		if s.commitments[i].Id == commitment.Id {
			s.commitments[i] = commitment
			return nil
		}
	}
	return fmt.Errorf("commitment %s not found", commitment.Id)
}

func (s *commitmentStore) Close() {}

type mockedIndexer struct {
	mock.Mock
}

func (m *mockedIndexer) GetUtxos(
	ctx context.Context, address string,
) ([]ports.Utxo, error) {
	args := m.Called(ctx, address)
	utxos, _ := args.Get(0).([]ports.Utxo)
	return utxos, args.Error(1)
}

func (m *mockedIndexer) GetTransactions(
	ctx context.Context, address string,
) ([]ports.AddressTx, error) {
	args := m.Called(ctx, address)
	txs, _ := args.Get(0).([]ports.AddressTx)
	return txs, args.Error(1)
}

func (m *mockedIndexer) GetTxStatus(
	ctx context.Context, txid string,
) (ports.TxStatus, error) {
	args := m.Called(ctx, txid)
	status, _ := args.Get(0).(ports.TxStatus)
	return status, args.Error(1)
}

func (m *mockedIndexer) GetChainTip(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	tip, _ := args.Get(0).(int64)
	return tip, args.Error(1)
}

func (m *mockedIndexer) Broadcast(
	ctx context.Context, txHex string,
) (string, error) {
	args := m.Called(ctx, txHex)
	return args.String(0), args.Error(1)
}

// stubScheduler runs one-shot tasks immediately and drops recurring ones, so
// tests exercise exactly one deterministic sweep per Start.
type stubScheduler struct{}

func (s *stubScheduler) Start()                                    {}
func (s *stubScheduler) Stop()                                     {}
func (s *stubScheduler) ScheduleTaskRecurring(int64, func()) error { return nil }
func (s *stubScheduler) ScheduleTaskOnce(_ int64, task func()) error {
	go task()
	return nil
}
