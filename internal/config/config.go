package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const minAllowedSequence = 512

type Config struct {
	Datadir  string
	LogLevel int

	Network    string
	EsploraURL string

	DbType string
	DbDir  string

	HubPubkey     string
	CsvDelay      uint32
	TxFee         int64
	DustThreshold int64

	SettlementPollInterval time.Duration
	SettlementPollAttempts int
	ReconcileInterval      int64

	UnlockerType     string
	UnlockerFilePath string // file unlocker
	UnlockerPassword string // env unlocker
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir                = "DATADIR"
	LogLevel               = "LOG_LEVEL"
	Network                = "NETWORK"
	EsploraURL             = "ESPLORA_URL"
	DbType                 = "DB_TYPE"
	HubPubkey              = "HUB_PUBKEY"
	CsvDelay               = "CSV_DELAY"
	TxFee                  = "TX_FEE"
	DustThreshold          = "DUST_THRESHOLD"
	SettlementPollInterval = "SETTLEMENT_POLL_INTERVAL"
	SettlementPollAttempts = "SETTLEMENT_POLL_ATTEMPTS"
	ReconcileInterval      = "RECONCILE_INTERVAL"
	UnlockerType           = "UNLOCKER_TYPE"
	UnlockerFilePath       = "UNLOCKER_FILE_PATH"
	UnlockerPassword       = "UNLOCKER_PASSWORD"

	defaultDatadir                = btcutil.AppDataDir("taphubd", false)
	defaultLogLevel               = 4
	defaultNetwork                = "bitcoin"
	defaultEsploraURL             = "https://blockstream.info/api"
	defaultDbType                 = "badger"
	defaultCsvDelay               = 604672 // 7 days
	defaultTxFee                  = 500
	defaultDustThreshold          = 540
	defaultSettlementPollInterval = 10 * time.Second
	defaultSettlementPollAttempts = 60
	defaultReconcileInterval      = 600
	defaultUnlockerType           = "env"
)

var supportedNetworks = map[string]*chaincfg.Params{
	"bitcoin": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"signet":  &chaincfg.SigNetParams,
	"regtest": &chaincfg.RegressionNetParams,
}

var supportedDbs = supportedType{
	"badger": {},
}

var supportedUnlockers = supportedType{
	"env":  {},
	"file": {},
}

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("TAPHUB")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(EsploraURL, defaultEsploraURL)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(CsvDelay, defaultCsvDelay)
	viper.SetDefault(TxFee, defaultTxFee)
	viper.SetDefault(DustThreshold, defaultDustThreshold)
	viper.SetDefault(SettlementPollInterval, defaultSettlementPollInterval)
	viper.SetDefault(SettlementPollAttempts, defaultSettlementPollAttempts)
	viper.SetDefault(ReconcileInterval, defaultReconcileInterval)
	viper.SetDefault(UnlockerType, defaultUnlockerType)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	cfg := &Config{
		Datadir:                viper.GetString(Datadir),
		LogLevel:               viper.GetInt(LogLevel),
		Network:                viper.GetString(Network),
		EsploraURL:             viper.GetString(EsploraURL),
		DbType:                 viper.GetString(DbType),
		DbDir:                  filepath.Join(viper.GetString(Datadir), "db"),
		HubPubkey:              viper.GetString(HubPubkey),
		CsvDelay:               viper.GetUint32(CsvDelay),
		TxFee:                  viper.GetInt64(TxFee),
		DustThreshold:          viper.GetInt64(DustThreshold),
		SettlementPollInterval: viper.GetDuration(SettlementPollInterval),
		SettlementPollAttempts: viper.GetInt(SettlementPollAttempts),
		ReconcileInterval:      viper.GetInt64(ReconcileInterval),
		UnlockerType:           viper.GetString(UnlockerType),
		UnlockerFilePath:       viper.GetString(UnlockerFilePath),
		UnlockerPassword:       viper.GetString(UnlockerPassword),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NetworkParams maps the configured network name to its chain parameters.
func (c *Config) NetworkParams() *chaincfg.Params {
	return supportedNetworks[c.Network]
}

func (c *Config) validate() error {
	if _, ok := supportedNetworks[c.Network]; !ok {
		names := make([]string, 0, len(supportedNetworks))
		for name := range supportedNetworks {
			names = append(names, name)
		}
		return fmt.Errorf(
			"network not supported, please select one of: %s",
			strings.Join(names, " | "),
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf(
			"db type not supported, please select one of: %s", supportedDbs,
		)
	}
	if !supportedUnlockers.supports(c.UnlockerType) {
		return fmt.Errorf(
			"unlocker type not supported, please select one of: %s",
			supportedUnlockers,
		)
	}
	if len(c.EsploraURL) == 0 {
		return fmt.Errorf("esplora url not set")
	}
	if len(c.HubPubkey) == 0 {
		return fmt.Errorf("hub pubkey not set")
	}
	if c.CsvDelay < minAllowedSequence {
		return fmt.Errorf(
			"invalid csv delay, must be at least %d seconds", minAllowedSequence,
		)
	}
	if c.TxFee <= 0 {
		return fmt.Errorf("tx fee must be greater than 0")
	}
	if c.DustThreshold <= 0 {
		return fmt.Errorf("dust threshold must be greater than 0")
	}
	if c.SettlementPollInterval < time.Second {
		return fmt.Errorf("settlement poll interval must be at least 1 second")
	}
	if c.SettlementPollAttempts < 1 {
		return fmt.Errorf("settlement poll attempts must be at least 1")
	}
	if c.ReconcileInterval < 2 {
		return fmt.Errorf("reconcile interval must be at least 2 seconds")
	}
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
