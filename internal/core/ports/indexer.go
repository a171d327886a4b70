package ports

import (
	"errors"

	"golang.org/x/net/context"
)

// ErrTxNotFound is the one indexer failure treated as definitive: a
// previously broadcast txid the indexer no longer knows about was evicted
// from the mempool. Every other failure is transient.
var ErrTxNotFound = errors.New("transaction not found")

type TxStatus struct {
	Confirmed   bool
	BlockHeight int64
	BlockTime   int64
}

type Utxo struct {
	Txid   string
	Vout   uint32
	Amount int64
	Status TxStatus
}

type TxOutput struct {
	Address string
	Amount  int64
}

// AddressTx is a transaction touching a watched address.
type AddressTx struct {
	Txid    string
	Outputs []TxOutput
	Status  TxStatus
}

type ChainIndexer interface {
	GetUtxos(ctx context.Context, address string) ([]Utxo, error)
	GetTransactions(ctx context.Context, address string) ([]AddressTx, error)
	GetTxStatus(ctx context.Context, txid string) (TxStatus, error)
	GetChainTip(ctx context.Context) (int64, error)
	// Broadcast submits a raw transaction and returns its txid. On rejection
	// the error carries the indexer's raw response body.
	Broadcast(ctx context.Context, txHex string) (string, error)
}
