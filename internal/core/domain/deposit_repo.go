package domain

import "context"

type DepositRepository interface {
	AddDeposit(ctx context.Context, deposit Deposit) error
	// GetDepositByTxid returns (nil, nil) when no deposit with the given txid
	// exists for the wallet.
	GetDepositByTxid(ctx context.Context, walletId, txid string) (*Deposit, error)
	GetDepositsForWallet(ctx context.Context, walletId string) ([]Deposit, error)
	UpdateDeposit(ctx context.Context, deposit Deposit) error
	Close()
}
