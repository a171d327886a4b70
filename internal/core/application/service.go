package application

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	log "github.com/sirupsen/logrus"
	"github.com/taphub/taphubd/internal/core/domain"
	"github.com/taphub/taphubd/internal/core/ports"
	"github.com/taphub/taphubd/pkg/channel"
)

// Service exposes the hub-side channel operations. The HTTP layer maps
// requests onto these and serializes results as JSON; it is not part of the
// core.
type Service interface {
	Start() error
	Stop()

	CreateWallet(
		ctx context.Context, userPubkey, fundingAddress string,
	) (*WalletView, error)
	GetWallet(ctx context.Context, walletId string) (*WalletView, error)
	GetTaprootAddress(ctx context.Context, walletId string) (string, error)
	ListDeposits(ctx context.Context, walletId string) ([]domain.Deposit, error)
	ListCommitments(ctx context.Context, walletId string) ([]domain.Commitment, error)

	CreateCommitment(
		ctx context.Context, walletId, merchantAddress string,
		amount int64, aggregate bool,
	) (*domain.Commitment, error)
	AttachSignature(ctx context.Context, commitmentId, signedTx string) error

	Settle(ctx context.Context, walletId string) (*SettlementResult, error)
}

// WalletView is a wallet read: the entity plus its balance rendered at the
// fixed-point boundary.
type WalletView struct {
	domain.Wallet
	Balance string
}

type SettlementResult struct {
	Txid        string
	Confirmed   bool
	ConfirmedAt int64
}

type service struct {
	repoManager ports.RepoManager
	indexer     ports.ChainIndexer
	scheduler   ports.SchedulerService

	hubPrvkey *secp256k1.PrivateKey
	hubPubkey *secp256k1.PublicKey
	net       *chaincfg.Params

	csvDelay      uint
	txFee         int64
	dustThreshold int64

	pollInterval      time.Duration
	pollAttempts      int
	reconcileInterval int64
}

func NewService(
	repoManager ports.RepoManager,
	indexer ports.ChainIndexer,
	scheduler ports.SchedulerService,
	hubPrvkey *secp256k1.PrivateKey,
	hubPubkey *secp256k1.PublicKey,
	net *chaincfg.Params,
	csvDelay uint,
	txFee, dustThreshold int64,
	pollInterval time.Duration,
	pollAttempts int,
	reconcileInterval int64,
) (Service, error) {
	if hubPrvkey == nil || hubPubkey == nil {
		return nil, fmt.Errorf("missing hub key material")
	}
	// the configured public key must be the private scalar's counterpart
	if !hubPrvkey.PubKey().IsEqual(hubPubkey) {
		return nil, fmt.Errorf("hub public key does not match hub private key")
	}

	return &service{
		repoManager:       repoManager,
		indexer:           indexer,
		scheduler:         scheduler,
		hubPrvkey:         hubPrvkey,
		hubPubkey:         hubPubkey,
		net:               net,
		csvDelay:          csvDelay,
		txFee:             txFee,
		dustThreshold:     dustThreshold,
		pollInterval:      pollInterval,
		pollAttempts:      pollAttempts,
		reconcileInterval: reconcileInterval,
	}, nil
}

func (s *service) Start() error {
	s.scheduler.Start()

	// a stalled settlement would otherwise lock its wallet forever, so the
	// pending-settlement sweep runs once shortly after startup and on a
	// recurring schedule
	if err := s.scheduler.ScheduleTaskOnce(time.Now().Unix()+1, func() {
		s.reconcilePendingSettlements(context.Background())
	}); err != nil {
		return err
	}

	return s.scheduler.ScheduleTaskRecurring(s.reconcileInterval, func() {
		s.reconcilePendingSettlements(context.Background())
	})
}

func (s *service) Stop() {
	s.scheduler.Stop()
	s.repoManager.Close()
}

func (s *service) CreateWallet(
	ctx context.Context, userPubkey, fundingAddress string,
) (*WalletView, error) {
	userKey, err := channel.ParsePublicKeyHex(userPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid user public key: %w", err)
	}

	chanCtx, err := channel.BuildContext(userKey, s.hubPubkey, s.csvDelay, s.net)
	if err != nil {
		return nil, err
	}

	wallet := domain.NewWallet(
		userPubkey, s.hubPubkeyHex(), fundingAddress, chanCtx.Address,
	)
	if err := s.repoManager.Wallets().AddWallet(ctx, *wallet); err != nil {
		return nil, err
	}

	log.Debugf("created wallet %s with taproot address %s", wallet.Id, chanCtx.Address)

	return &WalletView{
		Wallet:  *wallet,
		Balance: channel.FormatAmount(wallet.L2Balance),
	}, nil
}

// GetWallet is the wallet read path: a deposit-monitor cycle followed by a
// balance reconciliation, then the refreshed record.
func (s *service) GetWallet(
	ctx context.Context, walletId string,
) (*WalletView, error) {
	wallet, err := s.refreshWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}

	return &WalletView{
		Wallet:  *wallet,
		Balance: channel.FormatAmount(wallet.L2Balance),
	}, nil
}

func (s *service) GetTaprootAddress(
	ctx context.Context, walletId string,
) (string, error) {
	wallet, err := s.repoManager.Wallets().GetWallet(ctx, walletId)
	if err != nil {
		return "", err
	}

	chanCtx, err := s.channelContext(wallet)
	if err != nil {
		return "", err
	}
	return chanCtx.Address, nil
}

func (s *service) ListDeposits(
	ctx context.Context, walletId string,
) ([]domain.Deposit, error) {
	return s.repoManager.Deposits().GetDepositsForWallet(ctx, walletId)
}

func (s *service) ListCommitments(
	ctx context.Context, walletId string,
) ([]domain.Commitment, error) {
	return s.repoManager.Commitments().GetCommitmentsForWallet(ctx, walletId)
}

func (s *service) CreateCommitment(
	ctx context.Context, walletId, merchantAddress string,
	amount int64, aggregate bool,
) (*domain.Commitment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount %d", amount)
	}

	wallet, err := s.refreshWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}

	if wallet.Locked() {
		return nil, ErrSettlementInProgress{
			WalletId: wallet.Id, Txid: wallet.PendingSettlementTxid,
		}
	}

	chanCtx, err := s.channelContext(wallet)
	if err != nil {
		return nil, err
	}

	outputs, err := s.buildOutputs(ctx, wallet, merchantAddress, amount, aggregate)
	if err != nil {
		return nil, err
	}

	utxos, err := s.indexer.GetUtxos(ctx, wallet.TaprootAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch utxos: %w", err)
	}

	inputs := make([]channel.Input, 0, len(utxos))
	for _, utxo := range utxos {
		inputs = append(inputs, channel.Input{
			Txid:   utxo.Txid,
			Vout:   utxo.Vout,
			Amount: utxo.Amount,
		})
	}

	packet, err := channel.BuildFundingTx(
		chanCtx, inputs, outputs, wallet.FundingAddress,
		s.txFee, s.dustThreshold, s.net,
	)
	if err != nil {
		return nil, err
	}

	// the fee this specific psbt pays, recomputed from its input/output delta
	fee, err := channel.TxFee(packet)
	if err != nil {
		return nil, err
	}

	unsignedTx, err := channel.EncodePsbt(packet)
	if err != nil {
		return nil, err
	}

	commitment := domain.NewCommitment(
		wallet.Id, merchantAddress, amount, fee, unsignedTx,
	)

	// balance deduction, settlement-lock check and stale-balance protection
	// all happen inside the same wallet-record transaction
	deduction := amount + fee
	if err := s.repoManager.Wallets().UpdateWallet(
		ctx, wallet.Id, func(w *domain.Wallet) (*domain.Wallet, error) {
			if w.Locked() {
				return nil, ErrSettlementInProgress{
					WalletId: w.Id, Txid: w.PendingSettlementTxid,
				}
			}
			if w.L2Balance < deduction {
				return nil, ErrInsufficientBalance{
					Required: deduction, Available: w.L2Balance,
				}
			}
			w.L2Balance -= deduction
			return w, nil
		},
	); err != nil {
		return nil, err
	}

	if err := s.repoManager.Commitments().AddCommitment(ctx, *commitment); err != nil {
		// compensate the deduction, the commitment never existed
		if refundErr := s.repoManager.Wallets().UpdateWallet(
			ctx, wallet.Id, func(w *domain.Wallet) (*domain.Wallet, error) {
				w.L2Balance += deduction
				return w, nil
			},
		); refundErr != nil {
			log.WithError(refundErr).Errorf(
				"failed to refund wallet %s after commitment insert failure", wallet.Id,
			)
		}
		return nil, err
	}

	log.Debugf(
		"created commitment %s for wallet %s: amount %s, fee %s",
		commitment.Id, wallet.Id,
		channel.FormatAmount(amount), channel.FormatAmount(fee),
	)

	return commitment, nil
}

func (s *service) AttachSignature(
	ctx context.Context, commitmentId, signedTx string,
) error {
	commitment, err := s.repoManager.Commitments().GetCommitment(ctx, commitmentId)
	if err != nil {
		return errCommitmentNotFound{commitmentId}
	}

	if err := commitment.AttachSignature(signedTx); err != nil {
		return err
	}

	return s.repoManager.Commitments().UpdateCommitment(ctx, *commitment)
}

// buildOutputs derives the payout set of a funding spend. In aggregate mode
// every outstanding merchant balance is paid alongside the new payment, so a
// single settlement transaction can cover everything the wallet owes.
func (s *service) buildOutputs(
	ctx context.Context, wallet *domain.Wallet,
	merchantAddress string, amount int64, aggregate bool,
) ([]channel.Output, error) {
	totals := map[string]int64{merchantAddress: amount}
	order := []string{merchantAddress}

	if aggregate {
		commitments, err := s.repoManager.Commitments().
			GetCommitmentsForWallet(ctx, wallet.Id)
		if err != nil {
			return nil, err
		}
		for _, c := range commitments {
			if c.Settled {
				continue
			}
			if _, seen := totals[c.MerchantAddress]; !seen {
				order = append(order, c.MerchantAddress)
			}
			totals[c.MerchantAddress] += c.Amount
		}
	}

	outputs := make([]channel.Output, 0, len(order))
	for _, addr := range order {
		outputs = append(outputs, channel.Output{
			Address: addr,
			Amount:  totals[addr],
		})
	}
	return outputs, nil
}

// refreshWallet runs the deposit monitor and the reconciliation engine, then
// returns the wallet as stored.
func (s *service) refreshWallet(
	ctx context.Context, walletId string,
) (*domain.Wallet, error) {
	wallet, err := s.repoManager.Wallets().GetWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}

	// recomputed from the keys of record; a drifted stored address is a
	// fatal integrity error
	if _, err := s.channelContext(wallet); err != nil {
		return nil, err
	}

	s.monitorDeposits(ctx, wallet)

	if err := s.reconcileBalance(ctx, wallet.Id); err != nil {
		return nil, err
	}

	return s.repoManager.Wallets().GetWallet(ctx, walletId)
}

// channelContext re-derives the taproot context from the wallet's keys and
// asserts it still matches the stored address.
func (s *service) channelContext(wallet *domain.Wallet) (*channel.Context, error) {
	userKey, err := channel.ParsePublicKeyHex(wallet.UserPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid user public key: %w", err)
	}

	chanCtx, err := channel.BuildContext(userKey, s.hubPubkey, s.csvDelay, s.net)
	if err != nil {
		return nil, err
	}

	if err := chanCtx.AssertAddress(wallet.TaprootAddress); err != nil {
		return nil, fmt.Errorf("wallet %s integrity check failed: %w", wallet.Id, err)
	}

	return chanCtx, nil
}

func (s *service) hubPubkeyHex() string {
	return fmt.Sprintf("%x", s.hubPubkey.SerializeCompressed())
}
