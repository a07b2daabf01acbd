package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"crowdsale/crypto"
)

// Config is the sale economics file (crowdsale.toml).
type Config struct {
	Token                  string       `toml:"Token"`
	TokenName              string       `toml:"TokenName"`
	TokenDecimals          uint8        `toml:"TokenDecimals"`
	Controller             string       `toml:"Controller"`
	ControllerKeystorePath string       `toml:"ControllerKeystorePath"`
	EtherPeggedValue       uint64       `toml:"EtherPeggedValue"`
	TokensPerDollarBps     uint64       `toml:"TokensPerDollarBps"`
	CeilingName            string       `toml:"CeilingName"`
	Wallets                Wallets      `toml:"Wallets"`
	Vesting                Vesting      `toml:"Vesting"`
	Distribution           Distribution `toml:"Distribution"`
	Affiliate              Affiliate    `toml:"Affiliate"`
	Presale                Phase        `toml:"Presale"`
	General                Phase        `toml:"General"`
}

// Default returns the reference economics: 400 USD per ether, 2.5 tokens per
// dollar and the three presale discount tiers. Wallet and controller
// addresses are left empty.
func Default() *Config {
	return &Config{
		Token:              "SHP",
		TokenName:          "Sharpe Platform Token",
		TokenDecimals:      18,
		EtherPeggedValue:   400,
		TokensPerDollarBps: 25_000,
		CeilingName:        "general",
		Distribution: Distribution{
			TrusteeBps: 25_000,
			BountyBps:  5_000,
		},
		Affiliate: Affiliate{
			TierTwo:   "10 ether",
			TierThree: "20 ether",
			BonusBps:  [3]uint64{500, 1_000, 1_500},
		},
		Presale: Phase{
			MinContribution:    "10000 usd",
			MaxContribution:    "1000000 usd",
			Cap:                "10000000 usd",
			TierLimits:         []string{"49999 usd", "249999 usd", "1000000 usd"},
			TierMultipliersBps: []uint64{22_000, 21_000, 20_000},
			BaseMultiplierBps:  10_000,
		},
		General: Phase{
			MinContribution:   "100 usd",
			MaxContribution:   "1000 usd",
			Cap:               "4400 ether",
			BaseMultiplierBps: 10_000,
		},
	}
}

// Load loads the configuration from the given path, creating a default file
// with a fresh controller keystore when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	if strings.TrimSpace(cfg.CeilingName) == "" {
		cfg.CeilingName = "general"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault writes the default configuration with a newly generated
// controller key.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Controller = key.Address().Hex()
	cfg.ControllerKeystorePath = keystorePath
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Persist writes cfg to path in TOML form.
func Persist(path string, cfg *Config) error { return persist(path, cfg) }

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "controller.keystore")
}
