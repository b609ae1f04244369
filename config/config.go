// Package config loads hydrod's TOML configuration, mirroring the chain's
// own config.Load pattern: read the file if present, otherwise write a
// default one out so the next start picks it up.
package config

import (
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"

	"hydro/crypto"
)

// Config is hydrod's full runtime configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	// JWTSecretEnv names the environment variable holding the HS256 signing
	// secret for bearer-token authentication. Left empty, the server runs
	// without authentication (development only).
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`

	// DatabaseURL, if set, points at a Postgres instance that mirrors
	// proposal and round-close history for reporting. Empty disables
	// archival entirely.
	DatabaseURL string `toml:"DatabaseURL"`

	// ParquetArchiveDir, if set, receives one Parquet file per CloseRound
	// call archiving that round's final rankings for cold-storage
	// analytics. Empty disables it.
	ParquetArchiveDir string `toml:"ParquetArchiveDir"`

	// ValidatorKey is the hex-encoded private key identifying this node as a
	// whitelisted admin caller for local tooling; it is never required by
	// the engine itself, which resolves authorization from caller-supplied
	// JWT claims.
	ValidatorKey string `toml:"ValidatorKey"`

	OTel OTelConfig `toml:"OTel"`
}

// OTelConfig mirrors observability/otel.Config's fields for TOML decoding.
type OTelConfig struct {
	Enable   bool   `toml:"Enable"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load reads cfg from path, creating a default file there if none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddress: ":8090",
		DataDir:       "./hydro-data",
		Environment:   "development",
		ValidatorKey:  hex.EncodeToString(key.Bytes()),
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
