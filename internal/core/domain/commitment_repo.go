package domain

import "context"

type CommitmentRepository interface {
	AddCommitment(ctx context.Context, commitment Commitment) error
	GetCommitment(ctx context.Context, id string) (*Commitment, error)
	// GetCommitmentsForWallet returns the wallet's commitments ordered by
	// creation time, most recent first.
	GetCommitmentsForWallet(ctx context.Context, walletId string) ([]Commitment, error)
	// GetLatestCommitment returns (nil, nil) when the wallet has none.
	GetLatestCommitment(ctx context.Context, walletId string) (*Commitment, error)
	GetCommitmentsBySettlementTxid(ctx context.Context, txid string) ([]Commitment, error)
	UpdateCommitment(ctx context.Context, commitment Commitment) error
	Close()
}
