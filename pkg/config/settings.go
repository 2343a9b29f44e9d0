package config

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agrivest/internal/business/distribution"
)

// Settings is the process configuration: defaults, then an optional YAML
// file, then environment variables.
type Settings struct {
	Server     ServerSettings         `yaml:"server"`
	Database   DatabaseSettings       `yaml:"database"`
	RabbitMQ   RabbitMQSettings       `yaml:"rabbitmq"`
	Log        LogSettings            `yaml:"log"`
	Currency   CurrencySettings       `yaml:"currency"`
	Waterfall  distribution.Waterfall `yaml:"waterfall"`
	Settlement SettlementSettings     `yaml:"settlement"`
	Solana     SolanaSettings         `yaml:"solana"`
	Schedule   ScheduleSettings       `yaml:"schedule"`
}

type ServerSettings struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

type DatabaseSettings struct {
	Host         string `yaml:"host"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	Port         string `yaml:"port"`
	SSLMode      string `yaml:"ssl_mode"`
	Isolation    string `yaml:"isolation"` // read_committed / repeatable_read / serializable
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type RabbitMQSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text / json
}

type CurrencySettings struct {
	Code  string `yaml:"code"`
	Scale int32  `yaml:"scale"`
}

type SettlementSettings struct {
	Mode           string        `yaml:"mode"` // ledger / solana
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Concurrency    int           `yaml:"concurrency"`
	RateLimitRPS   int           `yaml:"rate_limit_rps"`
	ReconcileBatch int           `yaml:"reconcile_batch"`
}

type SolanaSettings struct {
	RPCURL        string `yaml:"rpc_url"`
	Mint          string `yaml:"mint"`
	MintDecimals  uint8  `yaml:"mint_decimals"`
	SignerKey     string `yaml:"signer_key"`
	KeyPassphrase string `yaml:"key_passphrase"`
	Custodial     bool   `yaml:"custodial"`
}

type ScheduleSettings struct {
	UnlockSweep  string `yaml:"unlock_sweep"`
	Reconcile    string `yaml:"reconcile"`
	PoolSnapshot string `yaml:"pool_snapshot"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Database: DatabaseSettings{
			Host:         "localhost",
			User:         "postgres",
			Name:         "agrivest",
			Port:         "5432",
			SSLMode:      "disable",
			Isolation:    "repeatable_read",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
		},
		RabbitMQ:  RabbitMQSettings{Port: "5672"},
		Log:       LogSettings{Level: "info", Format: "text"},
		Currency:  CurrencySettings{Code: "USD", Scale: 2},
		Waterfall: distribution.DefaultWaterfall(),
		Settlement: SettlementSettings{
			Mode:           "ledger",
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			BaseBackoff:    200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Concurrency:    8,
			RateLimitRPS:   10,
			ReconcileBatch: 200,
		},
		Solana: SolanaSettings{
			RPCURL:       "https://api.devnet.solana.com",
			MintDecimals: 6,
		},
		Schedule: ScheduleSettings{
			UnlockSweep:  "0 */5 * * * *",
			Reconcile:    "30 * * * * *",
			PoolSnapshot: "0 0 * * * *",
		},
	}
}

// Load builds Settings from defaults, the YAML file at path (skipped when
// empty) and the environment.
func Load(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	str := map[string]*string{
		"PORT":                  &s.Server.Port,
		"DB_HOST":               &s.Database.Host,
		"DB_USER":               &s.Database.User,
		"DB_PASSWORD":           &s.Database.Password,
		"DB_NAME":               &s.Database.Name,
		"DB_PORT":               &s.Database.Port,
		"DB_SSLMODE":            &s.Database.SSLMode,
		"DB_ISOLATION":          &s.Database.Isolation,
		"RABBITMQ_HOST":         &s.RabbitMQ.Host,
		"RABBITMQ_PORT":         &s.RabbitMQ.Port,
		"RABBITMQ_USER":         &s.RabbitMQ.User,
		"RABBITMQ_PASSWORD":     &s.RabbitMQ.Password,
		"LOG_LEVEL":             &s.Log.Level,
		"LOG_FORMAT":            &s.Log.Format,
		"CURRENCY":              &s.Currency.Code,
		"SETTLEMENT_MODE":       &s.Settlement.Mode,
		"SOLANA_RPC_URL":        &s.Solana.RPCURL,
		"SOLANA_MINT":           &s.Solana.Mint,
		"SOLANA_SIGNER_KEY":     &s.Solana.SignerKey,
		"WALLET_KEY_PASSPHRASE": &s.Solana.KeyPassphrase,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		s.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SETTLEMENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SETTLEMENT_TIMEOUT: %w", err)
		}
		s.Settlement.Timeout = d
	}
	if v := os.Getenv("CURRENCY_SCALE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid CURRENCY_SCALE: %w", err)
		}
		s.Currency.Scale = int32(n)
	}
	if os.Getenv("DB_AUTO_MIGRATE") == "true" {
		s.Database.AutoMigrate = true
	}
	return nil
}

func (s Settings) Validate() error {
	if err := s.Waterfall.Validate(); err != nil {
		return err
	}
	if s.Currency.Scale < 0 || s.Currency.Scale > 8 {
		return fmt.Errorf("currency scale %d out of range", s.Currency.Scale)
	}
	switch s.Settlement.Mode {
	case "ledger":
	case "solana":
		if s.Solana.Mint == "" || s.Solana.SignerKey == "" {
			return fmt.Errorf("solana settlement needs SOLANA_MINT and SOLANA_SIGNER_KEY")
		}
		if s.Currency.Scale > int32(s.Solana.MintDecimals) {
			return fmt.Errorf("mint has %d decimals, currency needs %d", s.Solana.MintDecimals, s.Currency.Scale)
		}
	default:
		return fmt.Errorf("unknown settlement mode %q", s.Settlement.Mode)
	}
	if _, err := s.Database.IsolationLevel(); err != nil {
		return err
	}
	return nil
}

// IsolationLevel maps the configured name onto database/sql.
func (d DatabaseSettings) IsolationLevel() (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(d.Isolation, " ", "_")) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", d.Isolation)
}

// DSN is the postgres connection string.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// URL is the amqp connection string.
func (r RabbitMQSettings) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}
