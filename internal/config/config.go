// Package config loads process configuration from the environment.
//
// Variables use the QD_ prefix. An optional .env file is read first so local
// development does not need exported variables; real environment variables
// always win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// User store drivers.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the complete runtime configuration.
//
// Fields tagged with env are decoded verbatim; the untagged fields below them
// are derived during validation.
type Config struct {
	Addr      string `env:"QD_ADDR,default=:3000"`
	Env       string `env:"QD_ENV,default=development"`
	Version   string `env:"QD_VERSION,default=dev"`
	Commit    string `env:"QD_COMMIT,default=unknown"`
	LogFormat string `env:"QD_LOG_FORMAT,default=text"`
	LogLevel  string `env:"QD_LOG_LEVEL,default=info"`

	SessionSecret        string `env:"QD_SESSION_SECRET"`
	SessionTTLRaw        string `env:"QD_SESSION_TTL,default=12h"`
	CookieName           string `env:"QD_COOKIE_NAME,default=qd_session"`
	TrustProxy           bool   `env:"QD_TRUST_PROXY,default=false"`
	AllowInsecureCookies bool   `env:"QD_ALLOW_INSECURE_COOKIES,default=false"`
	BcryptCost           int    `env:"QD_BCRYPT_COST,default=12"`

	LockoutAttempts   int    `env:"QD_LOCKOUT_ATTEMPTS,default=5"`
	LockoutWindowRaw  string `env:"QD_LOCKOUT_WINDOW,default=10m"`
	LockoutForRaw     string `env:"QD_LOCKOUT_DURATION,default=15m"`
	RateLimitPerMin   int    `env:"QD_RATE_LIMIT,default=120"`
	AuthRateLimit     int    `env:"QD_AUTH_RATE_LIMIT,default=10"`
	UploadRateLimit   int    `env:"QD_UPLOAD_RATE_LIMIT,default=60"`
	UserStore         string `env:"QD_USER_STORE,default=file"`
	UsersFile         string `env:"QD_USERS_FILE,default=users.json"`
	DatabaseURL       string `env:"QD_DATABASE_URL"`
	UploadDir         string `env:"QD_UPLOAD_DIR,default=uploads"`
	MaxUploadRaw      string `env:"QD_MAX_UPLOAD,default=25MB"`
	PublicDir         string `env:"QD_PUBLIC_DIR,default=public"`
	ScannerCommand    string `env:"QD_SCANNER_COMMAND,default=sh"`
	ScannerArgsRaw    string `env:"QD_SCANNER_ARGS,default=scripts/file_scanner.sh"`
	ScanTimeoutRaw    string `env:"QD_SCAN_TIMEOUT,default=60s"`
	ScanConcurrency   int    `env:"QD_SCAN_CONCURRENCY,default=4"`
	ArchiveEndpoint   string `env:"QD_S3_ENDPOINT"`
	ArchiveAccessKey  string `env:"QD_S3_ACCESS_KEY"`
	ArchiveSecretKey  string `env:"QD_S3_SECRET_KEY"`
	ArchiveBucket     string `env:"QD_S3_BUCKET"`
	ArchiveTimeoutRaw string `env:"QD_S3_TIMEOUT,default=2m"`

	SessionTTL      time.Duration
	LockoutWindow   time.Duration
	LockoutDuration time.Duration
	MaxUploadBytes  int64
	ScannerArgs     []string
	ScanTimeout     time.Duration
	ArchiveTimeout  time.Duration
}

// Load reads envFile (if it exists) into the process environment and then
// decodes and validates the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnviron(os.Environ())
}

// FromEnviron decodes a KEY=VALUE list and validates the result.
func FromEnviron(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg := &Config{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ArchiveEnabled reports whether accepted files are mirrored to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != ""
}

// Production reports whether the process runs with production defaults.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	v := NewValidator()

	v.ValidateRequired("QD_SESSION_SECRET", c.SessionSecret)
	v.ValidateMinLength("QD_SESSION_SECRET", c.SessionSecret, 32)
	v.ValidatePort("QD_ADDR", c.Addr)
	v.ValidateEnum("QD_ENV", c.Env, []string{"development", "staging", "production"})
	v.ValidateEnum("QD_LOG_FORMAT", c.LogFormat, []string{"json", "text"})
	v.ValidateEnum("QD_LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum("QD_USER_STORE", c.UserStore, []string{StoreFile, StoreSQLite, StorePostgres})
	v.ValidateIntRange("QD_BCRYPT_COST", c.BcryptCost, 4, 31)
	v.ValidatePositiveInt("QD_LOCKOUT_ATTEMPTS", c.LockoutAttempts)
	v.ValidatePositiveInt("QD_RATE_LIMIT", c.RateLimitPerMin)
	v.ValidatePositiveInt("QD_AUTH_RATE_LIMIT", c.AuthRateLimit)
	v.ValidatePositiveInt("QD_UPLOAD_RATE_LIMIT", c.UploadRateLimit)
	v.ValidatePositiveInt("QD_SCAN_CONCURRENCY", c.ScanConcurrency)
	v.ValidateRequired("QD_UPLOAD_DIR", c.UploadDir)
	v.ValidateRequired("QD_SCANNER_COMMAND", c.ScannerCommand)

	switch c.UserStore {
	case StoreFile:
		v.ValidateRequired("QD_USERS_FILE", c.UsersFile)
	case StoreSQLite, StorePostgres:
		v.ValidateRequired("QD_DATABASE_URL", c.DatabaseURL)
	}
	if c.UserStore == StorePostgres && c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		v.AddError("QD_DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	if c.ArchiveEnabled() {
		v.ValidateRequired("QD_S3_ACCESS_KEY", c.ArchiveAccessKey)
		v.ValidateRequired("QD_S3_SECRET_KEY", c.ArchiveSecretKey)
		v.ValidateRequired("QD_S3_BUCKET", c.ArchiveBucket)
		c.ArchiveTimeout = v.ParseDuration("QD_S3_TIMEOUT", c.ArchiveTimeoutRaw)
	}

	if c.Production() && c.AllowInsecureCookies {
		v.AddError("QD_ALLOW_INSECURE_COOKIES", "must not be enabled in production")
	}

	c.SessionTTL = v.ParseDuration("QD_SESSION_TTL", c.SessionTTLRaw)
	c.LockoutWindow = v.ParseDuration("QD_LOCKOUT_WINDOW", c.LockoutWindowRaw)
	c.LockoutDuration = v.ParseDuration("QD_LOCKOUT_DURATION", c.LockoutForRaw)
	c.ScanTimeout = v.ParseDuration("QD_SCAN_TIMEOUT", c.ScanTimeoutRaw)
	c.MaxUploadBytes = v.ParseBytes("QD_MAX_UPLOAD", c.MaxUploadRaw)
	c.ScannerArgs = strings.Fields(c.ScannerArgsRaw)

	return v.Err()
}
