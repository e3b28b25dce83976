// Package config contains the bridge configuration file and its store.
package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/persistence"
)

// Database drivers.
const (
	DriverMySQL  = persistence.DriverMySQL
	DriverSQLite = persistence.DriverSQLite
)

// PlaceholderSecret is the jwtSecret value written to a new configuration
// file.  It is too short to be used and is replaced on first start.
const PlaceholderSecret = "PLEASE_PASTE_YOUR_KEY"

// DefaultMessageToPlayer is sent to a player whose web sessions could not
// be reset.
const DefaultMessageToPlayer = "&cПроизошла ошибка при сбросе вашей сессии. Сообщите администрации."

// Config is the bridge configuration file.
type Config struct {
	// JWTSecret is the base64 signing secret.  Key names follow the
	// original file layout.
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`

	HTTPAddress string `yaml:"http_address"`

	DBDriver   string `yaml:"db_driver"`
	DBHost     string `yaml:"db_host"`
	DBDatabase string `yaml:"db_database"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	// DBPath is the file used by the sqlite driver.
	DBPath string `yaml:"db_path"`
	// IdentityDBPath is the sqlite file of the built-in identity backend.
	IdentityDBPath string `yaml:"identity_db_path"`

	TableUsers          string `yaml:"table_users"`
	TableSessions       string `yaml:"table_sessions"`
	ColumnUserID        string `yaml:"column_user_id"`
	ColumnUsername      string `yaml:"column_username"`
	ColumnSessionUserID string `yaml:"column_session_user_id"`

	MessageToPlayer string `yaml:"message_to_player"`
	NotifyURL       string `yaml:"notify_url"`

	LogFile string `yaml:"log_file"`

	TokenTTL         time.Duration `yaml:"token_ttl"`
	ExtendedTokenTTL time.Duration `yaml:"extended_token_ttl"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout"`

	DBPort int `yaml:"db_port"`

	// Workers bounds concurrent session invalidations.
	Workers int `yaml:"workers"`

	LogMaxSizeMB  int `yaml:"log_max_size_mb"`
	LogMaxBackups int `yaml:"log_max_backups"`
	LogMaxAgeDays int `yaml:"log_max_age_days"`

	Debug       bool `yaml:"debug"`
	LogCompress bool `yaml:"log_compress"`
}

// Default returns the configuration written to a new file.
func Default() *Config {
	return &Config{
		Debug:     false,
		JWTSecret: PlaceholderSecret,
		Issuer:    "baroness-bridge",

		TokenTTL:         time.Hour,
		ExtendedTokenTTL: 24 * time.Hour,

		HTTPAddress: ":8080",

		DBDriver:       DriverMySQL,
		DBHost:         "localhost",
		DBPort:         3306,
		DBDatabase:     "your_database",
		DBUser:         "your_user",
		DBPassword:     "your_password",
		DBPath:         "bridge.db",
		IdentityDBPath: "identity.db",

		TableUsers:          "users",
		TableSessions:       "sessions",
		ColumnUserID:        "id",
		ColumnUsername:      "username",
		ColumnSessionUserID: "user_id",

		MessageToPlayer: DefaultMessageToPlayer,
		NotifyTimeout:   5 * time.Second,

		Workers: 8,

		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// Database returns the connection settings of the web application store.
func (c *Config) Database() persistence.Config {
	return persistence.Config{
		Driver:   c.DBDriver,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Database: c.DBDatabase,
		User:     c.DBUser,
		Password: c.DBPassword,
		Path:     c.DBPath,
		Debug:    c.Debug,
	}
}

// IdentityDatabase returns the connection settings of the built-in identity
// backend.
func (c *Config) IdentityDatabase() persistence.Config {
	return persistence.Config{
		Driver: persistence.DriverSQLite,
		Path:   c.IdentityDBPath,
		Debug:  c.Debug,
	}
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Validate will validate the configuration
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTPAddress, validation.Required),
		validation.Field(&c.DBDriver, validation.Required, validation.In(DriverMySQL, DriverSQLite)),
		validation.Field(&c.TableUsers, validation.Required),
		validation.Field(&c.TableSessions, validation.Required),
		validation.Field(&c.ColumnUserID, validation.Required),
		validation.Field(&c.ColumnUsername, validation.Required),
		validation.Field(&c.ColumnSessionUserID, validation.Required),
		validation.Field(&c.TokenTTL, validation.Min(time.Second)),
		validation.Field(&c.ExtendedTokenTTL, validation.Min(c.TokenTTL)),
		validation.Field(&c.DBPort, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Workers, validation.Min(1)),
	)
}

// withDefaults fills zero values that would make the file unusable.
func (c *Config) withDefaults() *Config {
	def := Default()

	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = def.TokenTTL
	}
	if c.ExtendedTokenTTL == 0 {
		c.ExtendedTokenTTL = def.ExtendedTokenTTL
	}
	if c.HTTPAddress == "" {
		c.HTTPAddress = def.HTTPAddress
	}
	if c.DBDriver == "" {
		c.DBDriver = def.DBDriver
	}
	if c.DBPort == 0 {
		c.DBPort = def.DBPort
	}
	if c.IdentityDBPath == "" {
		c.IdentityDBPath = def.IdentityDBPath
	}
	if c.TableUsers == "" {
		c.TableUsers = def.TableUsers
	}
	if c.TableSessions == "" {
		c.TableSessions = def.TableSessions
	}
	if c.ColumnUserID == "" {
		c.ColumnUserID = def.ColumnUserID
	}
	if c.ColumnUsername == "" {
		c.ColumnUsername = def.ColumnUsername
	}
	if c.ColumnSessionUserID == "" {
		c.ColumnSessionUserID = def.ColumnSessionUserID
	}
	if c.MessageToPlayer == "" {
		c.MessageToPlayer = def.MessageToPlayer
	}
	if c.NotifyTimeout == 0 {
		c.NotifyTimeout = def.NotifyTimeout
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}

	return c
}
