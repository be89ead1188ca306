package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ownersale/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress          string            `toml:"ListenAddress"`
	DataDir                string            `toml:"DataDir"`
	CatalogPath            string            `toml:"CatalogPath"`
	CustodyKeystorePath    string            `toml:"CustodyKeystorePath"`
	CustodyPassphraseEnv   string            `toml:"CustodyPassphraseEnv"`
	EVMRPCURL              string            `toml:"EVMRPCURL"`
	EVMChainID             int64             `toml:"EVMChainID"`
	Confirmations          uint64            `toml:"Confirmations"`
	Tokens                 map[string]string `toml:"Tokens"`
	AuthEnabled            bool              `toml:"AuthEnabled"`
	AuthHMACSecret         string            `toml:"AuthHMACSecret"`
	AuthIssuer             string            `toml:"AuthIssuer"`
	AuthAudience           string            `toml:"AuthAudience"`
	ReadRequestsPerMinute  int               `toml:"ReadRequestsPerMinute"`
	WriteRequestsPerMinute int               `toml:"WriteRequestsPerMinute"`
	AllowedOrigins         []string          `toml:"AllowedOrigins"`
	Environment            string            `toml:"Environment"`
}

// Load loads the configuration from the given path, creating a default file
// (and a custody keystore next to it) on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if cfg.EVMChainID == 0 {
		return nil, fmt.Errorf("config file %s: EVMChainID is required", path)
	}
	if cfg.AuthEnabled && strings.TrimSpace(cfg.AuthHMACSecret) == "" {
		return nil, fmt.Errorf("config file %s: AuthHMACSecret is required when AuthEnabled", path)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ownersale-data"
	}
	if strings.TrimSpace(cfg.EVMRPCURL) == "" {
		cfg.EVMRPCURL = "http://127.0.0.1:8545"
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 3
	}
	if cfg.Tokens == nil {
		cfg.Tokens = map[string]string{}
	}
	if cfg.ReadRequestsPerMinute == 0 {
		cfg.ReadRequestsPerMinute = 600
	}
	if cfg.WriteRequestsPerMinute == 0 {
		cfg.WriteRequestsPerMinute = 60
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
}

// ensureKeystore guarantees a custody keystore exists at the configured
// path, generating one on first run. A passphrase-protected keystore is
// created empty-passphrase here; operators re-encrypt it out of band.
func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.CustodyKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.CustodyKeystorePath != keystorePath {
		cfg.CustodyKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		EVMChainID: 1337,
	}
	applyDefaults(cfg)
	cfg.CustodyKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
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
	return filepath.Join(dir, "custody.keystore")
}
