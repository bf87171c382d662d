package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("RAFFLR_CONFIG_DIR", t.TempDir())

	v, err := LoadConfig()
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "log", cfg.Notifier.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Sale.ReservationTTL)
	assert.Equal(t, 3, cfg.Sale.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Worker.TickInterval)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
store:
  driver: postgres
sale:
  reservation_ttl: 2m
  max_attempts: 4
notifier:
  driver: kafka
  kafka_topic: draws
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("RAFFLR_CONFIG_DIR", dir)
	t.Setenv("RAFFLR_SALE_MAX_ATTEMPTS", "7")
	t.Setenv("RAFFLR_PAYMENT_WEBHOOK_SECRET", "whsec")

	v, err := LoadConfig()
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Sale.ReservationTTL)
	assert.Equal(t, 7, cfg.Sale.MaxAttempts)
	assert.Equal(t, "kafka", cfg.Notifier.Driver)
	assert.Equal(t, "draws", cfg.Notifier.KafkaTopic)
	assert.Equal(t, "whsec", cfg.Payment.WebhookSecret)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("RAFFLR_CONFIG_DIR", t.TempDir())
	t.Setenv("RAFFLR_STORE_DRIVER", "sqlite")

	v, err := LoadConfig()
	require.NoError(t, err)
	_, err = ParseConfig(v)
	assert.Error(t, err)
}

func TestValidateAcceptsTelegramNotifier(t *testing.T) {
	t.Setenv("RAFFLR_CONFIG_DIR", t.TempDir())
	t.Setenv("RAFFLR_NOTIFIER_DRIVER", "telegram")
	t.Setenv("RAFFLR_NOTIFIER_TELEGRAM_CHAT_ID", "-100500")

	v, err := LoadConfig()
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "telegram", cfg.Notifier.Driver)
	assert.Equal(t, "-100500", cfg.Notifier.TelegramChatID)
}
