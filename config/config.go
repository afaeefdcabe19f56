// Package config loads service configuration.
//
// Precedence, lowest first: built-in defaults, the TOML file, a .env file in
// the working directory, then process environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/warp/community-engine/currency"
	"github.com/warp/community-engine/logging"
)

// DefaultPath is read when Load is given no path and the file exists.
const DefaultPath = "community-engine.toml"

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	AMQP     AMQPConfig     `toml:"amqp"`
	Log      LogConfig      `toml:"log"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Access   AccessConfig   `toml:"access"`
	Currency CurrencyConfig `toml:"currency"`
}

type ServerConfig struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // memory | sqlite3 | postgres
	URL    string `toml:"url"`
}

// AMQPConfig is optional: an empty URL disables messaging.
type AMQPConfig struct {
	URL           string `toml:"url"`
	Exchange      string `toml:"exchange"`
	PaymentsQueue string `toml:"payments_queue"`
	PaymentsKey   string `toml:"payments_routing_key"`
	ExpensesKey   string `toml:"expenses_routing_key"`
	PrefetchCount int    `toml:"prefetch_count"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// SweeperConfig controls the overdue sweep. A zero interval disables it.
type SweeperConfig struct {
	Interval Duration `toml:"interval"`
}

type AccessConfig struct {
	EnforceRoles bool `toml:"enforce_roles"`
}

type CurrencyConfig struct {
	Symbol             string `toml:"symbol"`
	ThousandsSeparator string `toml:"thousands_separator"`
	DecimalSeparator   string `toml:"decimal_separator"`
	MinorDigits        int    `toml:"minor_digits"`
}

// Formatter builds the display formatter for this currency.
func (c CurrencyConfig) Formatter() currency.Formatter {
	return currency.Formatter{
		Symbol:             c.Symbol,
		ThousandsSeparator: c.ThousandsSeparator,
		DecimalSeparator:   c.DecimalSeparator,
		MinorDigits:        c.MinorDigits,
	}
}

// Duration decodes TOML strings such as "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	clp := currency.Default()
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			URL:    "./data/community.db",
		},
		AMQP: AMQPConfig{
			Exchange:      "community",
			PaymentsQueue: "payments_confirmed",
			PaymentsKey:   "payment.confirmed",
			ExpensesKey:   "common_expense.generated",
			PrefetchCount: 10,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Sweeper: SweeperConfig{Interval: Duration{time.Hour}},
		Access:  AccessConfig{EnforceRoles: true},
		Currency: CurrencyConfig{
			Symbol:             clp.Symbol,
			ThousandsSeparator: clp.ThousandsSeparator,
			DecimalSeparator:   clp.DecimalSeparator,
			MinorDigits:        clp.MinorDigits,
		},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path DefaultPath is used if present.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// .env never overrides variables already set in the environment.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var problems []string

	setString(&c.Server.Port, "PORT")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.AMQP.URL, "AMQP_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SWEEP_INTERVAL %q: %v", v, err))
		} else {
			c.Sweeper.Interval = Duration{d}
		}
	}
	if v := os.Getenv("ENFORCE_ROLES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ENFORCE_ROLES %q: must be a boolean", v))
		} else {
			c.Access.EnforceRoles = b
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Server.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port %q: must be a number", c.Server.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite3", "postgres":
		if c.Database.URL == "" {
			problems = append(problems, fmt.Sprintf("database url is required for driver %q", c.Database.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid database driver %q: must be one of memory, sqlite3, postgres", c.Database.Driver))
	}

	if c.AMQP.URL != "" {
		if u, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme %q: must be amqp or amqps", u.Scheme))
		}
		if c.AMQP.Exchange == "" || c.AMQP.PaymentsQueue == "" {
			problems = append(problems, "AMQP exchange and payments queue are required when AMQP URL is set")
		}
		if c.AMQP.PrefetchCount < 1 {
			problems = append(problems, fmt.Sprintf("invalid AMQP prefetch count %d: must be at least 1", c.AMQP.PrefetchCount))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		problems = append(problems, fmt.Sprintf("invalid log format %q: must be text or json", c.Log.Format))
	}

	if iv := c.Sweeper.Interval.Duration; iv < 0 || (iv > 0 && iv < time.Second) || iv > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid sweep interval %v: must be 0 (disabled) or between 1s and 24h", iv))
	}

	if c.Currency.MinorDigits < 0 || c.Currency.MinorDigits > 4 {
		problems = append(problems, fmt.Sprintf("invalid currency minor digits %d: must be between 0 and 4", c.Currency.MinorDigits))
	}
	for name, sep := range map[string]string{"thousands": c.Currency.ThousandsSeparator, "decimal": c.Currency.DecimalSeparator} {
		if sep != "" && utf8.RuneCountInString(sep) != 1 {
			problems = append(problems, fmt.Sprintf("invalid currency %s separator %q: must be a single character", name, sep))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
