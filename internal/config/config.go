package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Momo     MomoConfig     `yaml:"momo"`
	Shop     ShopConfig     `yaml:"shop"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
}

type AppConfig struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password" json:"-"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// MomoConfig holds the wallet provider credentials and callback URLs.
type MomoConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	PartnerCode    string        `yaml:"partner_code"`
	PartnerName    string        `yaml:"partner_name"`
	StoreID        string        `yaml:"store_id"`
	AccessKey      string        `yaml:"access_key" json:"-"`
	SecretKey      string        `yaml:"secret_key" json:"-"`
	RedirectURL    string        `yaml:"redirect_url"`
	IPNURL         string        `yaml:"ipn_url"`
	Lang           string        `yaml:"lang"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PaymentTimeout is the suggested age after which unpaid wallet orders are swept.
	PaymentTimeout time.Duration `yaml:"payment_timeout"`
}

type ShopConfig struct {
	Address string `yaml:"address"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" json:"-"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Port = "8080"
	cfg.App.Env = "development"
	cfg.App.LogLevel = "info"

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Momo.Endpoint = "https://test-payment.momo.vn/v2/gateway/api/create"
	cfg.Momo.PartnerName = "Furniture Store"
	cfg.Momo.StoreID = "FurnitureStore"
	cfg.Momo.Lang = "vi"
	cfg.Momo.RequestTimeout = 30 * time.Second
	cfg.Momo.PaymentTimeout = 15 * time.Minute
	return cfg
}

// NewConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_PATH), an optional .env file and finally the process environment.
func NewConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")
	if err := setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err := setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"); err != nil {
		return err
	}
	if err := setBool(&cfg.Postgres.AutoMigrate, "DB_AUTO_MIGRATE"); err != nil {
		return err
	}

	setString(&cfg.Momo.Endpoint, "MOMO_ENDPOINT")
	setString(&cfg.Momo.PartnerCode, "MOMO_PARTNER_CODE")
	setString(&cfg.Momo.PartnerName, "MOMO_PARTNER_NAME")
	setString(&cfg.Momo.StoreID, "MOMO_STORE_ID")
	setString(&cfg.Momo.AccessKey, "MOMO_ACCESS_KEY")
	setString(&cfg.Momo.SecretKey, "MOMO_SECRET_KEY")
	setString(&cfg.Momo.RedirectURL, "MOMO_REDIRECT_URL")
	setString(&cfg.Momo.IPNURL, "MOMO_IPN_URL")
	setString(&cfg.Momo.Lang, "MOMO_LANG")
	if err := setDuration(&cfg.Momo.RequestTimeout, "MOMO_REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Momo.PaymentTimeout, "MOMO_PAYMENT_TIMEOUT"); err != nil {
		return err
	}

	setString(&cfg.Shop.Address, "SHOP_ADDRESS")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	return nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"DB_HOST", c.Postgres.Host},
		{"DB_USER", c.Postgres.User},
		{"DB_PASSWORD", c.Postgres.Password},
		{"DB_NAME", c.Postgres.DBName},
		{"MOMO_PARTNER_CODE", c.Momo.PartnerCode},
		{"MOMO_ACCESS_KEY", c.Momo.AccessKey},
		{"MOMO_SECRET_KEY", c.Momo.SecretKey},
		{"MOMO_REDIRECT_URL", c.Momo.RedirectURL},
		{"MOMO_IPN_URL", c.Momo.IPNURL},
		{"JWT_SECRET", c.Auth.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt32(dst *int32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = int32(n)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
