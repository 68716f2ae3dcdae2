package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/domain/models"
)

// Config represents the full application configuration surface.
type Config struct {
	SFTP         SFTPConfig         `json:"sftp" yaml:"sftp"`
	Paths        PathsConfig        `json:"paths" yaml:"paths"`
	FilePatterns FilePatternsConfig `json:"file_patterns" yaml:"file_patterns"`
	Processing   ProcessingConfig   `json:"processing" yaml:"processing"`
	Sync         SyncConfig         `json:"sync" yaml:"sync"`
	Server       ServerConfig       `json:"server" yaml:"server"`
	MongoDB      MongoDBConfig      `json:"mongodb" yaml:"mongodb"`
	Sheets       SheetsConfig       `json:"sheets" yaml:"sheets"`
	Webhook      WebhookConfig      `json:"webhook" yaml:"webhook"`
	Ledger       LedgerConfig       `json:"ledger" yaml:"ledger"`
	Log          LogConfig          `json:"log" yaml:"log"`
}

// SFTPConfig holds connection parameters for the remote endpoint.
type SFTPConfig struct {
	Host                 string   `json:"host" yaml:"host" env:"SFTP_HOST"`
	Port                 int      `json:"port" yaml:"port" env:"SFTP_PORT"`
	Username             string   `json:"username" yaml:"username" env:"SFTP_USERNAME"`
	User                 string   `json:"user,omitempty" yaml:"user,omitempty" env:"SFTP_USER"`
	PrivateKeyPath       string   `json:"private_key_path" yaml:"private_key_path" env:"SFTP_PRIVATE_KEY_PATH"`
	PrivateKeyPassphrase string   `json:"private_key_passphrase" yaml:"private_key_passphrase" env:"SFTP_PRIVATE_KEY_PASSPHRASE"`
	KnownHostsPath       string   `json:"known_hosts_path" yaml:"known_hosts_path" env:"SFTP_KNOWN_HOSTS_PATH"`
	ConnectTimeout       Duration `json:"connect_timeout" yaml:"connect_timeout" env:"SFTP_CONNECT_TIMEOUT"`
	TransferTimeout      Duration `json:"transfer_timeout" yaml:"transfer_timeout" env:"SFTP_TRANSFER_TIMEOUT"`
}

// PathsConfig describes remote and local directories.
type PathsConfig struct {
	RemoteExportPath string `json:"remote_export_path" yaml:"remote_export_path" env:"REMOTE_EXPORT_PATH"`
	RemoteImportPath string `json:"remote_import_path" yaml:"remote_import_path" env:"REMOTE_IMPORT_PATH"`
	LocalDownloadDir string `json:"local_download_dir" yaml:"local_download_dir" env:"LOCAL_DOWNLOAD_DIR"`
	LocalUploadDir   string `json:"local_upload_dir" yaml:"local_upload_dir" env:"LOCAL_UPLOAD_DIR"`
}

// FilePatternsConfig holds filename filters.
type FilePatternsConfig struct {
	ExportFilter string `json:"export_filter" yaml:"export_filter" env:"EXPORT_FILTER"`
}

// ProcessingConfig holds codec and export policies.
type ProcessingConfig struct {
	FileFormat          string `json:"file_format" yaml:"file_format" env:"FILE_FORMAT"`
	ShortRows           string `json:"short_rows" yaml:"short_rows" env:"SHORT_ROW_POLICY"`
	DeleteAfterDownload bool   `json:"delete_after_download" yaml:"delete_after_download" env:"DELETE_AFTER_DOWNLOAD"`
	StrictExtensions    bool   `json:"strict_extensions" yaml:"strict_extensions" env:"STRICT_EXTENSIONS"`
}

// SyncConfig holds scheduler and retry settings.
type SyncConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled" env:"SYNC_ENABLED"`
	Schedule    string   `json:"schedule" yaml:"schedule" env:"SYNC_SCHEDULE"`
	Timezone    string   `json:"timezone" yaml:"timezone" env:"TIMEZONE"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" env:"SYNC_MAX_ATTEMPTS"`
	BackoffMin  Duration `json:"backoff_min" yaml:"backoff_min" env:"SYNC_BACKOFF_MIN"`
	BackoffMax  Duration `json:"backoff_max" yaml:"backoff_max" env:"SYNC_BACKOFF_MAX"`
	RunTimeout  Duration `json:"run_timeout" yaml:"run_timeout" env:"SYNC_RUN_TIMEOUT"`
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string `json:"port" yaml:"port" env:"APP_PORT"`
}

// MongoDBConfig holds settings for the cycle history store. Empty URI disables it.
type MongoDBConfig struct {
	URI    string `json:"uri" yaml:"uri" env:"MONGODB_URI"`
	DBName string `json:"db_name" yaml:"db_name" env:"MONGODB_DB_NAME"`
}

// SheetsConfig contains configuration required to append exported rows to Google Sheets.
type SheetsConfig struct {
	CredentialsPath string `json:"credentials_path" yaml:"credentials_path" env:"GOOGLE_SHEETS_CREDENTIALS_PATH"`
	SpreadsheetID   string `json:"spreadsheet_id" yaml:"spreadsheet_id" env:"GOOGLE_SHEET_DATABASE_ID"`
	Range           string `json:"range" yaml:"range" env:"GOOGLE_SHEET_RANGE"`
}

// Enabled reports whether exported rows should be mirrored to a sheet.
func (c SheetsConfig) Enabled() bool {
	return c.SpreadsheetID != ""
}

// WebhookConfig describes where cycle reports are posted.
type WebhookConfig struct {
	URL     string   `json:"url" yaml:"url" env:"WEBHOOK_URL"`
	Token   string   `json:"token" yaml:"token" env:"WEBHOOK_TOKEN"`
	Timeout Duration `json:"timeout" yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
}

// LedgerConfig locates the transfer ledger database. Empty path disables it.
type LedgerConfig struct {
	Path string `json:"path" yaml:"path" env:"LEDGER_PATH"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Development bool   `json:"development" yaml:"development" env:"LOG_DEVELOPMENT"`
}

// Default returns the configuration used before any file or environment overlay.
func Default() Config {
	return Config{
		SFTP: SFTPConfig{
			Port:            22,
			ConnectTimeout:  Duration(30 * time.Second),
			TransferTimeout: Duration(5 * time.Minute),
		},
		Paths: PathsConfig{
			RemoteExportPath: "/Outgoing/Requisitions",
			RemoteImportPath: "/Incoming/Requisitions",
			LocalDownloadDir: "downloads",
			LocalUploadDir:   "uploads",
		},
		Processing: ProcessingConfig{
			FileFormat: string(models.FormatCSV),
			ShortRows:  string(codec.ShortRowsLenient),
		},
		Sync: SyncConfig{
			Enabled:     true,
			Schedule:    "@every 5m",
			Timezone:    "UTC",
			MaxAttempts: 3,
			BackoffMin:  Duration(time.Second),
			BackoffMax:  Duration(30 * time.Second),
			RunTimeout:  Duration(10 * time.Minute),
		},
		Server: ServerConfig{
			Port: "8080",
		},
		MongoDB: MongoDBConfig{
			DBName: "reqsync",
		},
		Sheets: SheetsConfig{
			Range: "Requisitions!A1",
		},
		Webhook: WebhookConfig{
			Timeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, an optional JSON or YAML document at path,
// an optional env file, and the process environment, in that order.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.SFTP.applyUserAlias()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyUserAlias accepts the older "user" key when "username" is unset.
func (c *SFTPConfig) applyUserAlias() {
	if c.Username == "" {
		c.Username = c.User
	}
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// Validate ensures that required configuration fields are populated and
// that policies hold known values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch {
	case c.SFTP.Host == "":
		return errors.New("SFTP_HOST must be provided")
	case c.SFTP.Port <= 0 || c.SFTP.Port > 65535:
		return fmt.Errorf("SFTP_PORT %d is out of range", c.SFTP.Port)
	case c.SFTP.Username == "":
		return errors.New("SFTP_USERNAME must be provided")
	case c.SFTP.ConnectTimeout <= 0:
		return errors.New("SFTP_CONNECT_TIMEOUT must be positive")
	case c.SFTP.TransferTimeout <= 0:
		return errors.New("SFTP_TRANSFER_TIMEOUT must be positive")
	}

	if c.Paths.RemoteExportPath == "" || c.Paths.RemoteImportPath == "" {
		return errors.New("REMOTE_EXPORT_PATH and REMOTE_IMPORT_PATH must be provided")
	}
	if c.Paths.LocalDownloadDir == "" || c.Paths.LocalUploadDir == "" {
		return errors.New("LOCAL_DOWNLOAD_DIR and LOCAL_UPLOAD_DIR must be provided")
	}

	if _, err := models.ParseFormat(c.Processing.FileFormat); err != nil {
		return fmt.Errorf("FILE_FORMAT: %w", err)
	}
	if _, err := codec.ParseShortRowPolicy(c.Processing.ShortRows); err != nil {
		return fmt.Errorf("SHORT_ROW_POLICY: %w", err)
	}

	if c.Sync.Enabled {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("SYNC_SCHEDULE %q: %w", c.Sync.Schedule, err)
		}
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Sync.Timezone, err)
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if c.Sync.BackoffMin <= 0 || c.Sync.BackoffMax < c.Sync.BackoffMin {
		return errors.New("SYNC_BACKOFF_MIN must be positive and not exceed SYNC_BACKOFF_MAX")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if c.MongoDB.URI != "" && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided with MONGODB_URI")
	}

	if c.Sheets.Enabled() {
		if c.Sheets.CredentialsPath == "" {
			return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH must be provided with GOOGLE_SHEET_DATABASE_ID")
		}
		if c.Sheets.Range == "" {
			return errors.New("GOOGLE_SHEET_RANGE must not be empty")
		}
	}

	return nil
}
