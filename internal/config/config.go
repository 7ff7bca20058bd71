package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names an optional YAML file loaded before the environment.
const ConfigFileEnv = "DBBACKUP_CONFIG"

type Config struct {
	ServiceName     string `yaml:"service_name"`
	CoreDatabaseURL string `yaml:"core_database_url"`
	HTTPListenAddr  string `yaml:"http_listen_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	LogLevel        string `yaml:"log_level"`

	TemporalAddress       string `yaml:"temporal_address"`
	TemporalNamespace     string `yaml:"temporal_namespace"`
	TemporalTaskQueue     string `yaml:"temporal_task_queue"`
	TemporalTLSCert       string `yaml:"temporal_tls_cert"`
	TemporalTLSKey        string `yaml:"temporal_tls_key"`
	TemporalTLSCACert     string `yaml:"temporal_tls_ca_cert"`
	TemporalTLSServerName string `yaml:"temporal_tls_server_name"`

	// BackupTempDir receives artifacts before they are moved into storage.
	BackupTempDir  string `yaml:"backup_temp_dir"`
	CredentialsKey string `yaml:"credentials_key"`
	AdminAPIKey    string `yaml:"admin_api_key"`

	Storage StorageConfig `yaml:"storage"`

	CompressAfterDays int    `yaml:"compress_after_days"`
	CompressionCron   string `yaml:"compression_cron"`

	Agent AgentConfig `yaml:"agent"`
}

type StorageConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`

	S3Endpoint   string        `yaml:"s3_endpoint"`
	S3Region     string        `yaml:"s3_region"`
	S3Bucket     string        `yaml:"s3_bucket"`
	S3AccessKey  string        `yaml:"s3_access_key"`
	S3SecretKey  string        `yaml:"s3_secret_key"`
	S3LinkExpiry time.Duration `yaml:"s3_link_expiry"`

	AzureAccountName string `yaml:"azure_account_name"`
	AzureAccountKey  string `yaml:"azure_account_key"`
	AzureContainer   string `yaml:"azure_container"`
	AzureServiceURL  string `yaml:"azure_service_url"`
}

// AgentConfig is only read by the backup-agent binary.
type AgentConfig struct {
	ManagerURL   string        `yaml:"manager_url"`
	Token        string        `yaml:"token"`
	URL          string        `yaml:"url"`
	ListenAddr   string        `yaml:"listen_addr"`
	PingInterval time.Duration `yaml:"ping_interval"`

	DatabaseType     string `yaml:"database_type"`
	DatabaseHost     string `yaml:"database_host"`
	DatabasePort     int    `yaml:"database_port"`
	DatabaseUser     string `yaml:"database_user"`
	DatabasePassword string `yaml:"database_password"`
}

func defaults() *Config {
	return &Config{
		HTTPListenAddr:    ":8090",
		MetricsAddr:       ":9090",
		LogLevel:          "info",
		TemporalAddress:   "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "dbbackup",
		BackupTempDir:     filepath.Join(os.TempDir(), "dbbackup"),
		Storage: StorageConfig{
			Type:         "local",
			S3LinkExpiry: time.Hour,
		},
		CompressAfterDays: 7,
		CompressionCron:   "0 3 * * *",
		Agent: AgentConfig{
			ManagerURL:   "http://localhost:8090",
			URL:          "http://localhost:8091",
			ListenAddr:   ":8091",
			PingInterval: 5 * time.Minute,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.CoreDatabaseURL = getEnv("CORE_DATABASE_URL", cfg.CoreDatabaseURL)
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", cfg.HTTPListenAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalNamespace = getEnv("TEMPORAL_NAMESPACE", cfg.TemporalNamespace)
	cfg.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.TemporalTLSCert = getEnv("TEMPORAL_TLS_CERT", cfg.TemporalTLSCert)
	cfg.TemporalTLSKey = getEnv("TEMPORAL_TLS_KEY", cfg.TemporalTLSKey)
	cfg.TemporalTLSCACert = getEnv("TEMPORAL_TLS_CA_CERT", cfg.TemporalTLSCACert)
	cfg.TemporalTLSServerName = getEnv("TEMPORAL_TLS_SERVER_NAME", cfg.TemporalTLSServerName)
	cfg.BackupTempDir = getEnv("BACKUP_TEMP_DIR", cfg.BackupTempDir)
	cfg.CredentialsKey = getEnv("CREDENTIALS_KEY", cfg.CredentialsKey)
	cfg.AdminAPIKey = getEnv("ADMIN_API_KEY", cfg.AdminAPIKey)
	cfg.CompressionCron = getEnv("COMPRESSION_CRON", cfg.CompressionCron)

	s := &cfg.Storage
	s.Type = strings.ToLower(getEnv("STORAGE_TYPE", s.Type))
	s.LocalPath = getEnv("STORAGE_LOCAL_PATH", s.LocalPath)
	s.S3Endpoint = getEnv("S3_ENDPOINT", s.S3Endpoint)
	s.S3Region = getEnv("S3_REGION", s.S3Region)
	s.S3Bucket = getEnv("S3_BUCKET", s.S3Bucket)
	s.S3AccessKey = getEnv("S3_ACCESS_KEY", s.S3AccessKey)
	s.S3SecretKey = getEnv("S3_SECRET_KEY", s.S3SecretKey)
	s.AzureAccountName = getEnv("AZURE_ACCOUNT_NAME", s.AzureAccountName)
	s.AzureAccountKey = getEnv("AZURE_ACCOUNT_KEY", s.AzureAccountKey)
	s.AzureContainer = getEnv("AZURE_CONTAINER", s.AzureContainer)
	s.AzureServiceURL = getEnv("AZURE_SERVICE_URL", s.AzureServiceURL)

	a := &cfg.Agent
	a.ManagerURL = getEnv("MANAGER_URL", a.ManagerURL)
	a.Token = getEnv("AGENT_TOKEN", a.Token)
	a.URL = getEnv("AGENT_URL", a.URL)
	a.ListenAddr = getEnv("AGENT_LISTEN_ADDR", a.ListenAddr)
	a.DatabaseType = getEnv("DATABASE_TYPE", a.DatabaseType)
	a.DatabaseHost = getEnv("DATABASE_HOST", a.DatabaseHost)
	a.DatabaseUser = getEnv("DATABASE_USER", a.DatabaseUser)
	a.DatabasePassword = getEnv("DATABASE_PASSWORD", a.DatabasePassword)

	var err error
	if cfg.CompressAfterDays, err = getEnvInt("COMPRESS_AFTER_DAYS", cfg.CompressAfterDays); err != nil {
		return nil, err
	}
	if a.DatabasePort, err = getEnvInt("DATABASE_PORT", a.DatabasePort); err != nil {
		return nil, err
	}
	if s.S3LinkExpiry, err = getEnvDuration("S3_LINK_EXPIRY", s.S3LinkExpiry); err != nil {
		return nil, err
	}
	if a.PingInterval, err = getEnvDuration("AGENT_PING_INTERVAL", a.PingInterval); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CompressAfter is the artifact age after which compression kicks in.
func (c *Config) CompressAfter() time.Duration {
	return time.Duration(c.CompressAfterDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
