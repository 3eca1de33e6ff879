package app

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys, shared by flags, environment and config.yaml.
const (
	KeyHome       = "home"
	KeyRelay      = "relay"
	KeyPassphrase = "passphrase"
	KeyLogLevel   = "log-level"
	KeyLogJSON    = "log-json"

	// EnvPrefix prefixes environment overrides, e.g. CIPHERCHAT_RELAY.
	EnvPrefix = "CIPHERCHAT"

	// DefaultRelayURL is used when no relay is configured.
	DefaultRelayURL = "http://127.0.0.1:8080"
)

// ErrNoPassphrase is returned when the local stores cannot be unlocked.
var ErrNoPassphrase = errors.New("a passphrase is required (--passphrase or " + EnvPrefix + "_PASSPHRASE)")

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string       // config directory, e.g. $HOME/.cipherchat
	RelayURL   string       // relay base URL, e.g. http://127.0.0.1:8080
	Passphrase string       // unlocks the local key store and profile
	LogLevel   string       // zerolog level name
	LogJSON    bool         // JSON logs instead of console output
	HTTP       *http.Client // optional; defaults to http.DefaultClient
}

// NewViper returns a viper instance reading CIPHERCHAT_* environment
// variables, with flags bound when fs is non-nil.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyRelay, DefaultRelayURL)
	v.SetDefault(KeyLogLevel, "info")

	if fs != nil {
		for _, key := range []string{KeyHome, KeyRelay, KeyPassphrase, KeyLogLevel, KeyLogJSON} {
			if f := fs.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %q", key)
				}
			}
		}
	}
	return v, nil
}

// LoadConfig resolves the home directory, merges $home/config.yaml when it
// exists, and returns the typed configuration. Flags and environment take
// precedence over the file.
func LoadConfig(v *viper.Viper) (Config, error) {
	home := v.GetString(KeyHome)
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.Wrap(err, "resolve home directory")
		}
		home = filepath.Join(dir, ".cipherchat")
	}

	file := filepath.Join(home, "config.yaml")
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read %s", file)
		}
	}

	return Config{
		Home:       home,
		RelayURL:   strings.TrimRight(v.GetString(KeyRelay), "/"),
		Passphrase: v.GetString(KeyPassphrase),
		LogLevel:   v.GetString(KeyLogLevel),
		LogJSON:    v.GetBool(KeyLogJSON),
	}, nil
}
