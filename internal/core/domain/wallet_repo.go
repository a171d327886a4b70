package domain

import "context"

type WalletRepository interface {
	AddWallet(ctx context.Context, wallet Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	GetWalletByTaprootAddress(ctx context.Context, address string) (*Wallet, error)
	// UpdateWallet runs updateFn on the current record inside a single
	// storage transaction; it is the serialization point for the settlement
	// lock and for concurrent balance deductions.
	UpdateWallet(
		ctx context.Context, id string, updateFn func(*Wallet) (*Wallet, error),
	) error
	GetLockedWallets(ctx context.Context) ([]Wallet, error)
	Close()
}
