package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigFileEnv names the environment variable holding the JSON file path.
const ConfigFileEnv = "KEHILLA_CONFIG"

// Duration accepts both "15m" strings and integer nanoseconds in JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// JsonConfig is the on-disk shape. Pointer fields distinguish "absent" from
// zero so a partial file only overrides what it names.
type JsonConfig struct {
	Backend            *string   `json:"backend"`
	FirestoreProjectID *string   `json:"firestore_project_id"`
	RedisURL           *string   `json:"redis_url"`
	RedisKeyPrefix     *string   `json:"redis_key_prefix"`
	DatabaseDSN        *string   `json:"database_dsn"`
	S3RootUser         *string   `json:"s3_root_user"`
	S3RootPassword     *string   `json:"s3_root_password"`
	S3Bucket           *string   `json:"s3_bucket"`
	S3Region           *string   `json:"s3_region"`
	S3BaseEndpoint     *string   `json:"s3_base_endpoint"`
	MediaURLTTL        *Duration `json:"media_url_ttl"`
	Timezone           *string   `json:"timezone"`
	BidCeiling         *float64  `json:"bid_ceiling"`
	SuperAdminEmail    *string   `json:"super_admin_email"`
	AuthSecret         *string   `json:"auth_secret"`
	MaxTxAttempts      *int      `json:"max_tx_attempts"`
	LikeToggleRate     *float64  `json:"like_toggle_rate"`
	LikeToggleBurst    *int      `json:"like_toggle_burst"`
	MaxPostLength      *int      `json:"max_post_length"`
	MaxChatLength      *int      `json:"max_chat_length"`
	LogLevel           *string   `json:"log_level"`
	MetricsAddr        *string   `json:"metrics_addr"`
}

// parseJson overlays the JSON file at path. An empty path is a no-op.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if c.Backend != nil {
		config.Backend = Backend(*c.Backend)
	}
	setString(&config.FirestoreProjectID, c.FirestoreProjectID)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.RedisKeyPrefix, c.RedisKeyPrefix)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.MediaURLTTL != nil {
		config.MediaURLTTL = c.MediaURLTTL.Duration
	}
	setString(&config.Timezone, c.Timezone)
	if c.BidCeiling != nil {
		config.BidCeiling = *c.BidCeiling
	}
	setString(&config.SuperAdminEmail, c.SuperAdminEmail)
	setString(&config.AuthSecret, c.AuthSecret)
	if c.MaxTxAttempts != nil {
		config.MaxTxAttempts = *c.MaxTxAttempts
	}
	if c.LikeToggleRate != nil {
		config.LikeToggleRate = *c.LikeToggleRate
	}
	if c.LikeToggleBurst != nil {
		config.LikeToggleBurst = *c.LikeToggleBurst
	}
	if c.MaxPostLength != nil {
		config.MaxPostLength = *c.MaxPostLength
	}
	if c.MaxChatLength != nil {
		config.MaxChatLength = *c.MaxChatLength
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.MetricsAddr, c.MetricsAddr)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
