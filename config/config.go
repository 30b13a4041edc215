package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string
	Environment string

	MongoURI string
	MongoDB  string

	RedisURL      string
	RedisPassword string
	RedisDB       int

	AppSecret string

	HoldTimeout          time.Duration
	SweepInterval        time.Duration
	PaymentTimeout       time.Duration
	CommitRetries        int
	CommitBackoff        time.Duration
	MaxTicketsPerBooking int

	GatewayMode   string
	GatewayURL    string
	GatewayAPIKey string
	Currency      string

	NotifyWorkers int
	UploadDir     string
	CORSOrigins   []string
}

const (
	GatewaySandbox = "sandbox"
	GatewayHTTP    = "http"
)

const devSecret = "eventhub-development-secret"

// Load reads configuration from the environment, falling back to the
// optional YAML file at path and then to defaults. The YAML file is a flat
// mapping using the same keys as the environment (HOLD_TIMEOUT: 10m).
func Load(path string) (*Config, error) {
	file := map[string]string{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	l := &loader{file: file}
	cfg := &Config{
		Port:        l.str("PORT", ":8080"),
		Environment: l.str("ENVIRONMENT", "development"),

		MongoURI: l.str("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  l.str("MONGO_DB", "eventdb"),

		RedisURL:      l.str("REDIS_URL", "localhost:6379"),
		RedisPassword: l.str("REDIS_PASSWORD", ""),
		RedisDB:       l.int("REDIS_DB", 0),

		AppSecret: l.str("APP_SECRET", ""),

		HoldTimeout:          l.duration("HOLD_TIMEOUT", 10*time.Minute),
		SweepInterval:        l.duration("SWEEP_INTERVAL", 30*time.Second),
		PaymentTimeout:       l.duration("PAYMENT_TIMEOUT", 2*time.Minute),
		CommitRetries:        l.int("COMMIT_RETRIES", 5),
		CommitBackoff:        l.duration("COMMIT_BACKOFF", 200*time.Millisecond),
		MaxTicketsPerBooking: l.int("MAX_TICKETS_PER_BOOKING", 10),

		GatewayMode:   strings.ToLower(l.str("GATEWAY_MODE", GatewaySandbox)),
		GatewayURL:    l.str("GATEWAY_URL", ""),
		GatewayAPIKey: l.str("GATEWAY_API_KEY", ""),
		Currency:      strings.ToLower(l.str("CURRENCY", "usd")),

		NotifyWorkers: l.int("NOTIFY_WORKERS", 4),
		UploadDir:     l.str("UPLOAD_DIR", "./static"),
		CORSOrigins:   l.list("CORS_ORIGINS", []string{"*"}),
	}
	if cfg.Port != "" && cfg.Port[0] != ':' {
		cfg.Port = ":" + cfg.Port
	}
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	if cfg.AppSecret == "" && !cfg.Production() {
		cfg.AppSecret = devSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	var errs []error
	if c.AppSecret == "" {
		errs = append(errs, errors.New("APP_SECRET is required in production"))
	}
	if c.HoldTimeout <= c.PaymentTimeout {
		errs = append(errs, fmt.Errorf("HOLD_TIMEOUT (%s) must be longer than PAYMENT_TIMEOUT (%s)", c.HoldTimeout, c.PaymentTimeout))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.CommitRetries < 1 {
		errs = append(errs, errors.New("COMMIT_RETRIES must be at least 1"))
	}
	if c.MaxTicketsPerBooking < 1 {
		errs = append(errs, errors.New("MAX_TICKETS_PER_BOOKING must be at least 1"))
	}
	if c.NotifyWorkers < 1 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be at least 1"))
	}
	switch c.GatewayMode {
	case GatewaySandbox:
		if c.Production() {
			errs = append(errs, errors.New("GATEWAY_MODE=sandbox is not allowed in production"))
		}
	case GatewayHTTP:
		if c.GatewayURL == "" {
			errs = append(errs, errors.New("GATEWAY_URL is required when GATEWAY_MODE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_MODE %q", c.GatewayMode))
	}
	return errors.Join(errs...)
}

// DeriveKey expands the application secret into a purpose-bound key.
func (c *Config) DeriveKey(purpose string) []byte {
	r := hkdf.New(sha256.New, []byte(c.AppSecret), nil, []byte("eventhub/"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255*32 bytes
		panic(err)
	}
	return key
}

type loader struct {
	file map[string]string
	errs []error
}

func (l *loader) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := l.file[key]
	return v, ok && v != ""
}

func (l *loader) str(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (l *loader) list(key string, def []string) []string {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
