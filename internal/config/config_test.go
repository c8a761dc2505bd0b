package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/coziyoo"},
		Auth: AuthConfig{
			AppJWTSecret:   "app-secret-0123456789-0123456789-app",
			AdminJWTSecret: "admin-secret-0123456789-0123456789-x",
		},
		Payment: PaymentConfig{WebhookSecret: "webhook-secret-16chars"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateEnforcesSecretLength(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.AppJWTSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Auth.AdminJWTSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Payment.WebhookSecret = "short"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSharedRealmSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.AdminJWTSecret = cfg.Auth.AppJWTSecret
	assert.Error(t, cfg.Validate())
}

func TestLoadRetentionPolicyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Retention = RetentionConfig{Window: 730 * 24 * time.Hour}

	policy, err := cfg.LoadRetentionPolicy()
	assert.NoError(t, err)
	assert.Equal(t, 730, policy.DefaultDays)
	assert.Empty(t, policy.Families)
}
