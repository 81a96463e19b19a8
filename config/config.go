package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mavuno/core/genesis"
	"mavuno/crypto"
	"mavuno/native/lending"

	"github.com/BurntSushi/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Config describes one ledger: where it persists, which key operates it, the
// parameters new pools are created with and how a fresh ledger is seeded.
type Config struct {
	DataDir           string              `toml:"DataDir"`
	DatabaseBackend   string              `toml:"DatabaseBackend"`
	AdminKeystorePath string              `toml:"AdminKeystorePath"`
	Lending           lending.Params      `toml:"Lending"`
	Genesis           genesis.GenesisSpec `toml:"Genesis"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration whose operator roles are held by a
// freshly generated admin key stored next to it, encrypted with passphrase.
func Load(path, passphrase string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, passphrase)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	cfg.normalize(path)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) normalize(configPath string) {
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./mavuno-data"
	}
	cfg.DatabaseBackend = strings.ToLower(strings.TrimSpace(cfg.DatabaseBackend))
	if cfg.DatabaseBackend == "" {
		cfg.DatabaseBackend = BackendLevelDB
	}
	cfg.AdminKeystorePath = strings.TrimSpace(cfg.AdminKeystorePath)
	if cfg.AdminKeystorePath == "" {
		cfg.AdminKeystorePath = defaultKeystorePath(configPath)
	}
	if cfg.Lending.Model == (lending.InterestModel{}) {
		cfg.Lending.Model = lending.DefaultInterestModel
	}
	if strings.TrimSpace(cfg.Genesis.NativeToken.Symbol) == "" {
		cfg.Genesis.NativeToken = genesis.DefaultNativeToken()
	}
}

// LoadAdminKey decrypts the configured admin keystore.
func (cfg *Config) LoadAdminKey(passphrase string) (*crypto.PrivateKey, error) {
	return crypto.LoadFromKeystore(cfg.AdminKeystorePath, passphrase)
}

// createDefault creates and saves a default configuration file.
func createDefault(path, passphrase string) (*Config, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("a keystore passphrase is required to create the default configuration at %s", path)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:           "./mavuno-data",
		DatabaseBackend:   BackendLevelDB,
		AdminKeystorePath: keystorePath,
		Lending:           DefaultLending(),
		Genesis:           *genesis.Default(key.PubKey().Address()),
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

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
	return filepath.Join(dir, "admin.keystore")
}
