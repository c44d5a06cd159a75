package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Room     RoomConfig     `mapstructure:"room"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
	LogMode     string `mapstructure:"log_mode"` // production | development
}

type DatabaseConfig struct {
	Driver    string          `mapstructure:"driver"` // memory | postgres | firestore
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
}

type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"dbname"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type DatasetConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	DefaultDeck string        `mapstructure:"default_deck"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type RoomConfig struct {
	DrawStrategy      string        `mapstructure:"draw_strategy"` // eventlog | transactional
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PurgePageSize     int           `mapstructure:"purge_page_size"`
}

type AuthConfig struct {
	IdentitySecret    string        `mapstructure:"identity_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	AttestationSecret string        `mapstructure:"attestation_secret"`
	AttestationHeader string        `mapstructure:"attestation_header"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.log_mode", "production")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.notify_channel", "tmls_changes")

	v.SetDefault("dataset.base_url", "https://themindlocksyndicate.github.io/TMLS_playcards_datasets")
	v.SetDefault("dataset.default_deck", "cards")
	v.SetDefault("dataset.http_timeout", 10*time.Second)

	v.SetDefault("room.draw_strategy", "eventlog")
	v.SetDefault("room.heartbeat_interval", 20*time.Second)
	v.SetDefault("room.purge_page_size", 200)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.attestation_header", "X-Attestation-Token")
}

func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TMLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Defaults plus environment are enough to run the memory driver.
	}

	if err = v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "firestore":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("database.driver must be memory, postgres or firestore"))
	}
	switch c.Room.DrawStrategy {
	case "eventlog", "transactional":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("room.draw_strategy must be eventlog or transactional"))
	}
	if c.Room.PurgePageSize <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("room.purge_page_size must be positive"))
	}
	if c.Database.Driver == "firestore" && c.Database.Firestore.ProjectID == "" {
		return errors.Join(ErrInvalidConfig, errors.New("database.firestore.project_id is required"))
	}
	return nil
}
