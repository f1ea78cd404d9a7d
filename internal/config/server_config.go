// Package config holds the environment-backed service configuration.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ModuleName is the service identifier used in logs and CLI output.
const ModuleName = "wallet-engine"

// Build arguments injected via ldflags.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetFormattedBuildArgs returns "<commit> (<date>) <go version>".
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%s (%s) %s", Commit, BuildDate, runtime.Version())
}

// Echo configures the HTTP listener.
type Echo struct {
	ListenAddress string
}

// Logger configures zerolog.
type Logger struct {
	Level              string
	PrettyPrintConsole bool
}

// Chain configures the network collaborators.
type Chain struct {
	RPCURLs        []string
	DefaultNetwork string
}

// Relay configures the meta-transaction relay.
type Relay struct {
	URL            string
	MetaTxEnabled  bool
	FourbyteURL    string
	SpotPriceURL   string
	ConfirmTimeout time.Duration
}

// Storage configures the embedded activity store.
type Storage struct {
	Dir string
}

// Wallet configures the seed backing the software key store. An empty
// mnemonic makes the service generate a fresh one at startup.
type Wallet struct {
	Mnemonic     string
	SeedPassword string
}

// Server is the full service configuration.
type Server struct {
	Echo    Echo
	Logger  Logger
	Chain   Chain
	Relay   Relay
	Storage Storage
	Wallet  Wallet
}

// DefaultServiceConfigFromEnv reads the configuration from the environment,
// applying defaults for anything unset. Env keys carry the WALLET_ prefix,
// e.g. WALLET_RPC_URLS, WALLET_RELAY_URL.
func DefaultServiceConfigFromEnv() Server {
	v := viper.New()
	v.SetEnvPrefix("WALLET")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("rpc_urls", "http://localhost:8545")
	v.SetDefault("default_network", "0x1")
	v.SetDefault("relay_url", "")
	v.SetDefault("metatx_enabled", false)
	v.SetDefault("fourbyte_url", "https://www.4byte.directory")
	v.SetDefault("spot_price_url", "https://api.coinbase.com/v2/prices/ETH-USD/spot")
	v.SetDefault("confirm_timeout", 180*time.Second)
	v.SetDefault("storage_dir", "/var/lib/wallet-engine")
	v.SetDefault("mnemonic", "")
	v.SetDefault("seed_password", "")

	return Server{
		Echo: Echo{
			ListenAddress: v.GetString("listen_address"),
		},
		Logger: Logger{
			Level:              v.GetString("log_level"),
			PrettyPrintConsole: v.GetBool("log_pretty"),
		},
		Chain: Chain{
			RPCURLs:        splitList(v.GetString("rpc_urls")),
			DefaultNetwork: v.GetString("default_network"),
		},
		Relay: Relay{
			URL:            v.GetString("relay_url"),
			MetaTxEnabled:  v.GetBool("metatx_enabled"),
			FourbyteURL:    v.GetString("fourbyte_url"),
			SpotPriceURL:   v.GetString("spot_price_url"),
			ConfirmTimeout: v.GetDuration("confirm_timeout"),
		},
		Storage: Storage{
			Dir: v.GetString("storage_dir"),
		},
		Wallet: Wallet{
			Mnemonic:     v.GetString("mnemonic"),
			SeedPassword: v.GetString("seed_password"),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
