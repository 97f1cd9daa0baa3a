package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string            `mapstructure:"env"` // "dev" or "prod"
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Feeds       FeedsConfig       `mapstructure:"feeds"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type ServerConfig struct {
	Addr   string `mapstructure:"addr"`    // listen address for downstream clients
	WSPath string `mapstructure:"ws_path"` // websocket endpoint path
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend"` // "memory" or "redis"
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
}

type BroadcastConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// CredentialsConfig holds the token endpoints and app keys per provider.
// In prod the app keys come from Parameter Store, see Resolve.
type CredentialsConfig struct {
	KIS     ProviderCredentials `mapstructure:"kis"`
	Kiwoom  ProviderCredentials `mapstructure:"kiwoom"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

type ProviderCredentials struct {
	TokenURL  string `mapstructure:"token_url"`
	AppKey    string `mapstructure:"app_key"`
	AppSecret string `mapstructure:"app_secret"`
}

type FeedsConfig struct {
	Domestic FeedConfig `mapstructure:"domestic"`
	Foreign  FeedConfig `mapstructure:"foreign"`
	Gold     FeedConfig `mapstructure:"gold"`
}

type FeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., FEEDS_FOREIGN_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws/quotes")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 2*time.Second)
	v.SetDefault("broadcast.interval", 200*time.Millisecond)
	v.SetDefault("credentials.timeout", 10*time.Second)

	for _, feed := range []string{"domestic", "foreign", "gold"} {
		v.SetDefault("feeds."+feed+".connect_timeout", 10*time.Second)
		v.SetDefault("feeds."+feed+".ping_interval", 30*time.Second)
		v.SetDefault("feeds."+feed+".pong_timeout", 10*time.Second)
	}
}
