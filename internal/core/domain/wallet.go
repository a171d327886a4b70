package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SettlementStage int

const (
	SettlementStageIdle SettlementStage = iota
	SettlementStageLocked
	SettlementStageBroadcast
	SettlementStageConfirmed
	SettlementStageTimedOut
)

func (s SettlementStage) String() string {
	switch s {
	case SettlementStageIdle:
		return "idle"
	case SettlementStageLocked:
		return "locked"
	case SettlementStageBroadcast:
		return "broadcast"
	case SettlementStageConfirmed:
		return "confirmed"
	case SettlementStageTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Wallet identifies a user's channel with the hub. L2Balance is a cache of
// the reconciled off-chain balance, refreshed on every read and never trusted
// as sole source of truth. At most one settlement may be in flight per
// wallet; while in flight, no new commitment may be created against it.
type Wallet struct {
	Id             string
	UserPubkey     string
	HubPubkey      string
	FundingAddress string
	TaprootAddress string

	L2Balance int64

	SettlementInProgress  bool
	PendingSettlementTxid string
	Stage                 SettlementStage

	CreatedAt int64
}

func NewWallet(userPubkey, hubPubkey, fundingAddress, taprootAddress string) *Wallet {
	return &Wallet{
		Id:             uuid.New().String(),
		UserPubkey:     userPubkey,
		HubPubkey:      hubPubkey,
		FundingAddress: fundingAddress,
		TaprootAddress: taprootAddress,
		Stage:          SettlementStageIdle,
		CreatedAt:      time.Now().Unix(),
	}
}

func (w *Wallet) Locked() bool {
	return w.SettlementInProgress
}

// LockForSettlement is the check-then-set primitive guarding the per-wallet
// settlement mutex. It must run inside a single storage transaction.
func (w *Wallet) LockForSettlement() error {
	if w.SettlementInProgress {
		return fmt.Errorf(
			"wallet %s already has a settlement in progress (txid %s)",
			w.Id, w.PendingSettlementTxid,
		)
	}
	w.SettlementInProgress = true
	w.Stage = SettlementStageLocked
	return nil
}

func (w *Wallet) MarkBroadcast(txid string) {
	w.PendingSettlementTxid = txid
	w.Stage = SettlementStageBroadcast
}

// CompleteSettlement records a confirmed settlement: the off-chain balance is
// reset and the lock released.
func (w *Wallet) CompleteSettlement() {
	w.L2Balance = 0
	w.SettlementInProgress = false
	w.PendingSettlementTxid = ""
	w.Stage = SettlementStageConfirmed
}

// TimeoutSettlement keeps the lock and the pending txid: the settlement was
// broadcast and may still confirm, so only the reconciliation sweep may
// release the wallet.
func (w *Wallet) TimeoutSettlement() {
	w.Stage = SettlementStageTimedOut
}

// RollbackSettlement releases a wallet whose pending settlement was evicted
// from the mempool without confirming.
func (w *Wallet) RollbackSettlement() {
	w.SettlementInProgress = false
	w.PendingSettlementTxid = ""
	w.Stage = SettlementStageIdle
}

// Unlock releases the settlement lock on error paths before broadcast.
func (w *Wallet) Unlock() {
	w.SettlementInProgress = false
	w.PendingSettlementTxid = ""
	w.Stage = SettlementStageIdle
}
