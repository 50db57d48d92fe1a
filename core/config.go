package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PushDriverSTOMP = "stomp"
	PushDriverNATS  = "nats"

	StorageEngineSQLite   = "sqlite"
	StorageEnginePostgres = "postgres"
	StorageEngineMemory   = "memory"
)

type (
	APIConfig struct {
		BaseURL string
		Timeout time.Duration // 0: no timeout beyond the transport defaults
		// ExpiryMarkers are the substrings of a 401 `message` meaning "access token expired".
		ExpiryMarkers []string
	}

	PushConfig struct {
		Driver         string
		URL            string
		ReconnectDelay time.Duration
	}

	// MockAPIConfig configures the mock student-management API.
	MockAPIConfig struct {
		Address    string
		Secret     string
		AccessTTL  time.Duration
		RefreshTTL time.Duration
		NATSURL    string
	}

	StorageConfig struct {
		Engine  string
		DSN     string
		RootKey string
	}

	Config struct {
		Env          string
		Debug        bool
		TestMode     bool
		AppName      string
		Build        string
		ConfigDir    string
		RollbarToken string
		MetricsAddr  string

		API     APIConfig
		Push    PushConfig
		Storage StorageConfig
		MockAPI MockAPIConfig
	}
)

// NewConfig loads the configuration from the environment, the optional `.env.<env>` file
// and the optional `portal.yaml`, both looked up in the config directory.
func NewConfig() *Config {
	conf := viper.New()
	dir := configDir()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Masomo")
	conf.SetDefault("build", "dev")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("metricsAddr", "")
	conf.SetDefault("api_base_url", "http://localhost:8080/api")
	conf.SetDefault("api_timeout", time.Duration(0))
	conf.SetDefault("api_expiry_markers", []string{"만료", "expired"})
	conf.SetDefault("push_driver", PushDriverSTOMP)
	conf.SetDefault("push_url", "ws://localhost:8080/ws")
	conf.SetDefault("push_reconnect_delay", 5*time.Second)
	conf.SetDefault("storage_engine", StorageEngineSQLite)
	conf.SetDefault("storage_dsn", "file:"+filepath.Join(dir, "portal.db"))
	conf.SetDefault("storage_root_key", "root")
	conf.SetDefault("mock_address", ":8080")
	conf.SetDefault("mock_secret", "")
	conf.SetDefault("mock_access_ttl", 15*time.Minute)
	conf.SetDefault("mock_refresh_ttl", 7*24*time.Hour)
	conf.SetDefault("mock_nats_url", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	case "QA", "PROD":
		conf.SetDefault("debug", false)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(dir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	conf.SetConfigName("portal")
	conf.SetConfigType("yaml")
	conf.AddConfigPath(dir)
	if err := conf.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("config.ReadInConfig(%s): %v", dir, err)
		}
	}

	return &Config{
		Env:          env,
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		Build:        conf.GetString("build"),
		ConfigDir:    dir,
		RollbarToken: conf.GetString("rollbarToken"),
		MetricsAddr:  conf.GetString("metricsAddr"),
		API: APIConfig{
			BaseURL:       strings.TrimSuffix(conf.GetString("api_base_url"), "/"),
			Timeout:       conf.GetDuration("api_timeout"),
			ExpiryMarkers: conf.GetStringSlice("api_expiry_markers"),
		},
		Push: PushConfig{
			Driver:         CleanString(conf.GetString("push_driver"), true /* lower */),
			URL:            conf.GetString("push_url"),
			ReconnectDelay: conf.GetDuration("push_reconnect_delay"),
		},
		Storage: StorageConfig{
			Engine:  CleanString(conf.GetString("storage_engine"), true /* lower */),
			DSN:     conf.GetString("storage_dsn"),
			RootKey: conf.GetString("storage_root_key"),
		},
		MockAPI: MockAPIConfig{
			Address:    conf.GetString("mock_address"),
			Secret:     conf.GetString("mock_secret"),
			AccessTTL:  conf.GetDuration("mock_access_ttl"),
			RefreshTTL: conf.GetDuration("mock_refresh_ttl"),
			NATSURL:    conf.GetString("mock_nats_url"),
		},
	}
}

// configDir returns $MASOMO_CONFIG_DIR, falling back to <user config dir>/masomo.
func configDir() string {
	if dir := os.Getenv("MASOMO_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "masomo")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Fatalf("config.MkdirAll(%s): %v", dir, err)
	}
	return dir
}
