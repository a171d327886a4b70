package ports

import "github.com/taphub/taphubd/internal/core/domain"

type RepoManager interface {
	Wallets() domain.WalletRepository
	Deposits() domain.DepositRepository
	Commitments() domain.CommitmentRepository
	Close()
}
