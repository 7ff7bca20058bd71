package config

import (
	"fmt"
	"sort"
	"strings"
)

var storageRequirements = map[string]func(s StorageConfig) []string{
	"local": func(s StorageConfig) []string {
		return missing(map[string]string{"STORAGE_LOCAL_PATH": s.LocalPath})
	},
	"s3": func(s StorageConfig) []string {
		return missing(map[string]string{
			"S3_ENDPOINT":   s.S3Endpoint,
			"S3_BUCKET":     s.S3Bucket,
			"S3_ACCESS_KEY": s.S3AccessKey,
			"S3_SECRET_KEY": s.S3SecretKey,
		})
	},
	"amazons3": func(s StorageConfig) []string {
		return missing(map[string]string{
			"S3_REGION":     s.S3Region,
			"S3_BUCKET":     s.S3Bucket,
			"S3_ACCESS_KEY": s.S3AccessKey,
			"S3_SECRET_KEY": s.S3SecretKey,
		})
	},
	"azure": func(s StorageConfig) []string {
		return missing(map[string]string{
			"AZURE_ACCOUNT_NAME": s.AzureAccountName,
			"AZURE_ACCOUNT_KEY":  s.AzureAccountKey,
			"AZURE_CONTAINER":    s.AzureContainer,
		})
	},
}

// Validate checks that every value the given binary needs is present.
// All missing variables are reported at once.
func (c *Config) Validate(role string) error {
	var errs []string

	switch role {
	case "core-api", "worker":
		errs = append(errs, missing(map[string]string{
			"CORE_DATABASE_URL": c.CoreDatabaseURL,
			"TEMPORAL_ADDRESS":  c.TemporalAddress,
			"BACKUP_TEMP_DIR":   c.BackupTempDir,
			"CREDENTIALS_KEY":   c.CredentialsKey,
		})...)
		if role == "core-api" {
			errs = append(errs, missing(map[string]string{
				"HTTP_LISTEN_ADDR": c.HTTPListenAddr,
				"ADMIN_API_KEY":    c.AdminAPIKey,
			})...)
		}
		req, ok := storageRequirements[c.Storage.Type]
		if !ok {
			errs = append(errs, fmt.Sprintf("STORAGE_TYPE %q is not one of local, s3, amazons3, azure", c.Storage.Type))
		} else {
			errs = append(errs, req(c.Storage)...)
		}
		if c.CompressAfterDays < 0 {
			errs = append(errs, "COMPRESS_AFTER_DAYS must not be negative")
		}
	case "backup-agent":
		errs = append(errs, missing(map[string]string{
			"MANAGER_URL":   c.Agent.ManagerURL,
			"AGENT_TOKEN":   c.Agent.Token,
			"DATABASE_TYPE": c.Agent.DatabaseType,
			"DATABASE_HOST": c.Agent.DatabaseHost,
		})...)
		if c.Agent.PingInterval <= 0 {
			errs = append(errs, "AGENT_PING_INTERVAL must be positive")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		errs = append(errs, "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func missing(values map[string]string) []string {
	var names []string
	for name, v := range values {
		if v == "" {
			names = append(names, name+" is required")
		}
	}
	sort.Strings(names)
	return names
}
