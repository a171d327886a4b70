package appconfig

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	log "github.com/sirupsen/logrus"
	"github.com/taphub/taphubd/internal/config"
	"github.com/taphub/taphubd/internal/core/application"
	"github.com/taphub/taphubd/internal/core/ports"
	"github.com/taphub/taphubd/internal/infrastructure/db"
	esploraindexer "github.com/taphub/taphubd/internal/infrastructure/indexer/esplora"
	timescheduler "github.com/taphub/taphubd/internal/infrastructure/scheduler/gocron"
	envunlocker "github.com/taphub/taphubd/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/taphub/taphubd/internal/infrastructure/unlocker/file"
	"github.com/taphub/taphubd/pkg/channel"
)

// Config assembles the infrastructure services described by the env config
// and hands out the fully wired application service.
type Config struct {
	cfg *config.Config

	repo      ports.RepoManager
	indexer   ports.ChainIndexer
	scheduler ports.SchedulerService
	unlocker  ports.Unlocker
	svc       application.Service
}

func New(cfg *config.Config) (*Config, error) {
	c := &Config{cfg: cfg}

	if err := c.repoManager(); err != nil {
		return nil, err
	}
	if err := c.indexerService(); err != nil {
		return nil, err
	}
	if err := c.schedulerService(); err != nil {
		return nil, err
	}
	if err := c.unlockerService(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.cfg.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.cfg.DbDir, logger}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.cfg.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) indexerService() error {
	svc, err := esploraindexer.NewService(c.cfg.EsploraURL)
	if err != nil {
		return err
	}

	c.indexer = svc
	return nil
}

func (c *Config) schedulerService() error {
	c.scheduler = timescheduler.NewScheduler()
	return nil
}

func (c *Config) unlockerService() error {
	var svc ports.Unlocker
	var err error
	switch c.cfg.UnlockerType {
	case "file":
		svc, err = fileunlocker.NewService(c.cfg.UnlockerFilePath)
	case "env":
		svc, err = envunlocker.NewService(c.cfg.UnlockerPassword)
	default:
		err = fmt.Errorf("unknown unlocker type")
	}
	if err != nil {
		return err
	}

	c.unlocker = svc
	return nil
}

func (c *Config) appService() error {
	keyHex, err := c.unlocker.GetKey(context.Background())
	if err != nil {
		return fmt.Errorf("failed to unlock hub key: %w", err)
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("invalid hub private key: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf(
			"invalid hub private key: expected 32 bytes, got %d", len(keyBytes),
		)
	}
	hubPrvkey := secp256k1.PrivKeyFromBytes(keyBytes)

	hubPubkey, err := channel.ParsePublicKeyHex(c.cfg.HubPubkey)
	if err != nil {
		return fmt.Errorf("invalid hub public key: %w", err)
	}

	svc, err := application.NewService(
		c.repo, c.indexer, c.scheduler,
		hubPrvkey, hubPubkey, c.cfg.NetworkParams(),
		uint(c.cfg.CsvDelay), c.cfg.TxFee, c.cfg.DustThreshold,
		c.cfg.SettlementPollInterval, c.cfg.SettlementPollAttempts,
		c.cfg.ReconcileInterval,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}
