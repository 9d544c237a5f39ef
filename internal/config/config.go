// Package config assembles the server configuration from built-in defaults,
// an optional JSON file, a .env file, environment variables and command-line
// flags, in that order of increasing priority.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the server.
type Config struct {
	RunAddr                    string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	LogLevel                   string        `env:"LOG_LEVEL" validate:"loglevel"`
	DBFileName                 string        `env:"FILE_STORAGE_PATH" validate:"filepath"`
	DatabaseDSN                string        `env:"DATABASE_DSN"`
	DBConnectionTimeout        time.Duration `env:"DB_CONNECTION_TIMEOUT" validate:"required"`
	AuthCookieName             string        `env:"AUTH_COOKIE_NAME" validate:"required"`
	AuthCookieSigningSecretKey string        `env:"JWT_SECRET" validate:"required"`
	SessionTTL                 time.Duration `env:"SESSION_TTL" validate:"required"`
	SecureCookie               bool          `env:"SECURE_COOKIE"`
	MaxUploadSize              int64         `env:"MAX_UPLOAD_SIZE" validate:"gt=0"`
	MaxContentSize             int64         `env:"MAX_CONTENT_SIZE" validate:"gt=0"`
	TrustedSubnet              string        `env:"TRUSTED_SUBNET" validate:"omitempty,cidr"`
	RevokedTokensSweepInterval time.Duration `env:"REVOKED_TOKENS_SWEEP_INTERVAL" validate:"required"`
	ArchiveBucket              string        `env:"ARCHIVE_S3_BUCKET"`
	ArchiveRegion              string        `env:"ARCHIVE_S3_REGION"`
	ArchiveEndpoint            string        `env:"ARCHIVE_S3_ENDPOINT" validate:"omitempty,url"`
	ArchiveAccessKey           string        `env:"ARCHIVE_S3_ACCESS_KEY"`
	ArchiveSecretKey           string        `env:"ARCHIVE_S3_SECRET_KEY"`
	ConfigFile                 string        `env:"CONFIG"`
}

type jsonConfig struct {
	RunAddr                    *string `json:"server_address"`
	LogLevel                   *string `json:"log_level"`
	DBFileName                 *string `json:"file_storage_path"`
	DatabaseDSN                *string `json:"database_dsn"`
	DBConnectionTimeout        *string `json:"db_connection_timeout"`
	AuthCookieName             *string `json:"auth_cookie_name"`
	AuthCookieSigningSecretKey *string `json:"jwt_secret"`
	SessionTTL                 *string `json:"session_ttl"`
	SecureCookie               *bool   `json:"secure_cookie"`
	MaxUploadSize              *int64  `json:"max_upload_size"`
	MaxContentSize             *int64  `json:"max_content_size"`
	TrustedSubnet              *string `json:"trusted_subnet"`
	RevokedTokensSweepInterval *string `json:"revoked_tokens_sweep_interval"`
	ArchiveBucket              *string `json:"archive_s3_bucket"`
	ArchiveRegion              *string `json:"archive_s3_region"`
	ArchiveEndpoint            *string `json:"archive_s3_endpoint"`
	ArchiveAccessKey           *string `json:"archive_s3_access_key"`
	ArchiveSecretKey           *string `json:"archive_s3_secret_key"`
}

const (
	defaultMaxUploadSize = 5 << 20

	// defaultMaxContentSize bounds the text file once it is inflated.
	defaultMaxContentSize = 50 << 20
)

var defaultConfig = Config{
	RunAddr:                    ":4000",
	LogLevel:                   "info",
	DBConnectionTimeout:        10 * time.Second,
	AuthCookieName:             "token",
	SessionTTL:                 7 * 24 * time.Hour,
	MaxUploadSize:              defaultMaxUploadSize,
	MaxContentSize:             defaultMaxContentSize,
	RevokedTokensSweepInterval: time.Hour,
	ArchiveRegion:              "us-east-1",
}

// ErrMissingJWTSecret is returned when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("JWT_SECRET is not configured")

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	if path == "" {
		return true
	}
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	if c.AuthCookieSigningSecretKey == "" {
		return ErrMissingJWTSecret
	}

	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

// ArchiveEnabled reports whether uploaded archives should be kept in S3.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
}

// WithDisableFlagsParsing skips the command line entirely.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs replaces os.Args[1:] as the source of flags.
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

type flagValues struct {
	configFile    string
	runAddr       string
	logLevel      string
	dbFileName    string
	databaseDSN   string
	jwtSecret     string
	trustedSubnet string
	set           map[string]bool
}

func parseFlags(args []string) (*flagValues, error) {
	values := &flagValues{set: map[string]bool{}}

	flagSet := flag.NewFlagSet("server", flag.ContinueOnError)
	flagSet.StringVar(&values.configFile, "c", "", "JSON configuration file")
	flagSet.StringVar(&values.configFile, "config", "", "JSON configuration file")
	flagSet.StringVar(&values.runAddr, "a", "", "address and port to run server")
	flagSet.StringVar(&values.logLevel, "l", "", "logger level")
	flagSet.StringVar(&values.dbFileName, "f", "", "JSON file name with database")
	flagSet.StringVar(&values.databaseDSN, "d", "", "A string with the database connection details")
	flagSet.StringVar(&values.jwtSecret, "s", "", "secret used to sign session tokens")
	flagSet.StringVar(&values.trustedSubnet, "t", "", "CIDR allowed to read internal stats")

	err := flagSet.Parse(args)
	if err != nil {
		return nil, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		values.set[f.Name] = true
	})

	return values, nil
}

func (f *flagValues) apply(c *Config) {
	if f.set["a"] {
		c.RunAddr = f.runAddr
	}
	if f.set["l"] {
		c.LogLevel = f.logLevel
	}
	if f.set["f"] {
		c.DBFileName = f.dbFileName
	}
	if f.set["d"] {
		c.DatabaseDSN = f.databaseDSN
	}
	if f.set["s"] {
		c.AuthCookieSigningSecretKey = f.jwtSecret
	}
	if f.set["t"] {
		c.TrustedSubnet = f.trustedSubnet
	}
}

func setDuration(target *time.Duration, value *string) error {
	if value == nil {
		return nil
	}
	duration, err := time.ParseDuration(*value)
	if err != nil {
		return err
	}
	*target = duration

	return nil
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func (c *Config) loadJSON(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}

	var values jsonConfig
	err = json.Unmarshal(data, &values)
	if err != nil {
		return err
	}

	setString(&c.RunAddr, values.RunAddr)
	setString(&c.LogLevel, values.LogLevel)
	setString(&c.DBFileName, values.DBFileName)
	setString(&c.DatabaseDSN, values.DatabaseDSN)
	setString(&c.AuthCookieName, values.AuthCookieName)
	setString(&c.AuthCookieSigningSecretKey, values.AuthCookieSigningSecretKey)
	setString(&c.TrustedSubnet, values.TrustedSubnet)
	setString(&c.ArchiveBucket, values.ArchiveBucket)
	setString(&c.ArchiveRegion, values.ArchiveRegion)
	setString(&c.ArchiveEndpoint, values.ArchiveEndpoint)
	setString(&c.ArchiveAccessKey, values.ArchiveAccessKey)
	setString(&c.ArchiveSecretKey, values.ArchiveSecretKey)
	if values.SecureCookie != nil {
		c.SecureCookie = *values.SecureCookie
	}
	if values.MaxUploadSize != nil {
		c.MaxUploadSize = *values.MaxUploadSize
	}
	if values.MaxContentSize != nil {
		c.MaxContentSize = *values.MaxContentSize
	}

	return errors.Join(
		setDuration(&c.DBConnectionTimeout, values.DBConnectionTimeout),
		setDuration(&c.SessionTTL, values.SessionTTL),
		setDuration(&c.RevokedTokensSweepInterval, values.RevokedTokensSweepInterval),
	)
}

// New builds and validates the configuration.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                os.Args[1:],
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Unable to load .env file: %v", err)
	}

	flags := &flagValues{set: map[string]bool{}}
	if !options.disableFlagsParsing {
		flags, err = parseFlags(options.args)
		if err != nil {
			return nil, fmt.Errorf("in internal/config/config.go/New(): error while `parseFlags()` calling: %w", err)
		}
	}

	values := defaultConfig

	configFile := os.Getenv("CONFIG")
	if flags.configFile != "" {
		configFile = flags.configFile
	}
	if configFile != "" {
		err = values.loadJSON(configFile)
		if err != nil {
			return nil, fmt.Errorf("in internal/config/config.go/New(): error while `values.loadJSON()` calling: %w", err)
		}
	}

	err = env.Parse(&values)
	if err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}

	flags.apply(&values)
	values.ConfigFile = configFile

	err = values.validate()
	if err != nil {
		return nil, err
	}

	return &values, nil
}
