/*
Package config loads the Hero Coins service configuration.

LAYERS (later wins):
  1. Defaults
  2. YAML file named by --config or HERO_COINS_CONFIG
  3. .env file (optional) and process environment
  4. Command-line flags the operator explicitly set

ENVIRONMENT:
  PER_CHANNEL                      "1"/"true" for one ledger per channel
  GM_USER_ID                       identity always treated as GM
  GM_ROLE_NAME                     role treated as GM (mutable at runtime)
  HERO_COINS_STORE                 file | sqlite | memory
  HERO_COINS_DATA                  document path (file or database)
  HERO_COINS_CORRUPT_POLICY        recover | fail
  HERO_COINS_PORT                  HTTP port
  HERO_COINS_LOG_LEVEL             debug | info | warn | error
  HERO_COINS_LOG_FORMAT            json | console
  HERO_COINS_GATEWAY_TOKEN         bearer token required from the gateway
  HERO_COINS_BACKUP_INTERVAL       Go duration, 0 disables
  HERO_COINS_BACKUP_DIR            local backup directory
  HERO_COINS_BACKUP_S3_BUCKET      S3/R2 bucket
  HERO_COINS_BACKUP_S3_PREFIX      key prefix inside the bucket
  HERO_COINS_BACKUP_S3_ENDPOINT    S3-compatible endpoint URL
  HERO_COINS_BACKUP_S3_REGION      region ("auto" for R2)
  HERO_COINS_BACKUP_S3_ACCESS_KEY  static access key
  HERO_COINS_BACKUP_S3_SECRET_KEY  static secret key

Everything is read once at startup. The GM role name may change later
through ledger.Authorizer; nothing here is re-read.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config is the full service configuration.
type Config struct {
	Port          int    `yaml:"port"`
	Store         string `yaml:"store"`
	DataPath      string `yaml:"data_path"`
	CorruptPolicy string `yaml:"corrupt_policy"`

	PerChannel bool   `yaml:"per_channel"`
	GMUserID   string `yaml:"gm_user_id"`
	GMRoleName string `yaml:"gm_role_name"`

	GatewayToken string `yaml:"gateway_token"`

	Log    LogConfig    `yaml:"log"`
	Backup BackupConfig `yaml:"backup"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackupConfig configures scheduled backups.
type BackupConfig struct {
	Interval time.Duration `yaml:"interval"`
	Dir      string        `yaml:"dir"`
	S3       S3Config      `yaml:"s3"`
}

// S3Config locates an S3-compatible backup bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:          8080,
		Store:         StoreFile,
		DataPath:      "hero_coins_data.json",
		CorruptPolicy: string(ledger.CorruptRecover),
		Log:           LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from args (without the program name) and
// the environment. A missing .env file is not an error.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	set := pflag.NewFlagSet("hero-coins", pflag.ContinueOnError)
	flags := defineFlags(set)
	if err := set.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()

	path := *flags.configPath
	if path == "" {
		path, _ = lookup("HERO_COINS_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	flags.apply(set, &cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("GM_USER_ID", &cfg.GMUserID)
	str("GM_ROLE_NAME", &cfg.GMRoleName)
	str("HERO_COINS_STORE", &cfg.Store)
	str("HERO_COINS_DATA", &cfg.DataPath)
	str("HERO_COINS_CORRUPT_POLICY", &cfg.CorruptPolicy)
	str("HERO_COINS_LOG_LEVEL", &cfg.Log.Level)
	str("HERO_COINS_LOG_FORMAT", &cfg.Log.Format)
	str("HERO_COINS_GATEWAY_TOKEN", &cfg.GatewayToken)
	str("HERO_COINS_BACKUP_DIR", &cfg.Backup.Dir)
	str("HERO_COINS_BACKUP_S3_BUCKET", &cfg.Backup.S3.Bucket)
	str("HERO_COINS_BACKUP_S3_PREFIX", &cfg.Backup.S3.Prefix)
	str("HERO_COINS_BACKUP_S3_ENDPOINT", &cfg.Backup.S3.Endpoint)
	str("HERO_COINS_BACKUP_S3_REGION", &cfg.Backup.S3.Region)
	str("HERO_COINS_BACKUP_S3_ACCESS_KEY", &cfg.Backup.S3.AccessKey)
	str("HERO_COINS_BACKUP_S3_SECRET_KEY", &cfg.Backup.S3.SecretKey)

	if v, ok := lookup("PER_CHANNEL"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PER_CHANNEL: %w", err)
		}
		cfg.PerChannel = b
	}
	if v, ok := lookup("HERO_COINS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("HERO_COINS_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := lookup("HERO_COINS_BACKUP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("HERO_COINS_BACKUP_INTERVAL: %w", err)
		}
		cfg.Backup.Interval = d
	}
	return nil
}

// =============================================================================
// FLAGS
// =============================================================================

type flagValues struct {
	configPath     *string
	port           *int
	store          *string
	data           *string
	corruptPolicy  *string
	perChannel     *bool
	gmUserID       *string
	gmRoleName     *string
	logLevel       *string
	logFormat      *string
	backupInterval *time.Duration
	backupDir      *string
}

func defineFlags(set *pflag.FlagSet) flagValues {
	d := Default()
	return flagValues{
		configPath:     set.String("config", "", "YAML configuration file"),
		port:           set.IntP("port", "p", d.Port, "HTTP server port"),
		store:          set.String("store", d.Store, "document store: file, sqlite or memory"),
		data:           set.String("data", d.DataPath, "document path (JSON file or SQLite database)"),
		corruptPolicy:  set.String("corrupt-policy", d.CorruptPolicy, "on undecodable storage: recover (start empty) or fail"),
		perChannel:     set.Bool("per-channel", false, "keep one ledger per channel instead of per guild"),
		gmUserID:       set.String("gm-user", "", "user ID always allowed to run GM commands"),
		gmRoleName:     set.String("gm-role", "", "role name allowed to run GM commands"),
		logLevel:       set.String("log-level", d.Log.Level, "log level: debug, info, warn, error"),
		logFormat:      set.String("log-format", d.Log.Format, "log encoding: json or console"),
		backupInterval: set.Duration("backup-interval", 0, "interval between scheduled backups, 0 disables"),
		backupDir:      set.String("backup-dir", "", "directory for scheduled backups"),
	}
}

// apply copies flags the operator set explicitly; defaults never override
// file or environment values.
func (f flagValues) apply(set *pflag.FlagSet, cfg *Config) {
	if set.Changed("port") {
		cfg.Port = *f.port
	}
	if set.Changed("store") {
		cfg.Store = *f.store
	}
	if set.Changed("data") {
		cfg.DataPath = *f.data
	}
	if set.Changed("corrupt-policy") {
		cfg.CorruptPolicy = *f.corruptPolicy
	}
	if set.Changed("per-channel") {
		cfg.PerChannel = *f.perChannel
	}
	if set.Changed("gm-user") {
		cfg.GMUserID = *f.gmUserID
	}
	if set.Changed("gm-role") {
		cfg.GMRoleName = *f.gmRoleName
	}
	if set.Changed("log-level") {
		cfg.Log.Level = *f.logLevel
	}
	if set.Changed("log-format") {
		cfg.Log.Format = *f.logFormat
	}
	if set.Changed("backup-interval") {
		cfg.Backup.Interval = *f.backupInterval
	}
	if set.Changed("backup-dir") {
		cfg.Backup.Dir = *f.backupDir
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store {
	case StoreFile, StoreSQLite:
		if c.DataPath == "" {
			return fmt.Errorf("store %q needs a data path", c.Store)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want file, sqlite or memory)", c.Store)
	}
	if _, err := ledger.ParseCorruptPolicy(c.CorruptPolicy); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Backup.Interval < 0 {
		return fmt.Errorf("negative backup interval %s", c.Backup.Interval)
	}
	return nil
}

// Policy returns the parsed corrupt storage policy.
func (c Config) Policy() ledger.CorruptPolicy {
	p, err := ledger.ParseCorruptPolicy(c.CorruptPolicy)
	if err != nil {
		return ledger.CorruptRecover
	}
	return p
}

// LedgerMode names the scoping mode for display.
func (c Config) LedgerMode() string {
	return ledger.Resolver{PerChannel: c.PerChannel}.Mode()
}
