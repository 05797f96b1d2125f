package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ledgerlink/ids"
)

const setup = `
client:
  network:
    nodes:
      "127.0.0.1:50211": "0.0.3"
      "127.0.0.1:50212": "0.0.4"
    mirrors:
      - "127.0.0.1:5551"
    insecure: true
    min_backoff: 250ms
    max_backoff: 8s
  policy:
    max_attempts: 5
    poll_interval: 100ms
  operator_account_id: "0.0.1001"
  operator_key_file: "operator.pem"
  chunk_size: 512
  receipt_cache:
    life_window: 10m
store:
  path: ""
sign_share:
  server_address: "nats://127.0.0.1:4222"
  client_name: "ledgerctl"
telemetry:
  port: 2112
log:
  level: info
`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	assert.Nil(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRead(t *testing.T) {
	cfg, err := Read(writeFile(t, "setup.yaml", setup))
	assert.Nil(t, err)

	assert.Equal(t, ids.Account(3), cfg.Client.Network.Nodes["127.0.0.1:50211"])
	assert.Equal(t, ids.Account(4), cfg.Client.Network.Nodes["127.0.0.1:50212"])
	assert.Equal(t, []string{"127.0.0.1:5551"}, cfg.Client.Network.Mirrors)
	assert.True(t, cfg.Client.Network.Insecure)
	assert.Equal(t, 8*time.Second, cfg.Client.Network.MaxBackoff)
	assert.Equal(t, 5, cfg.Client.Policy.MaxAttempts)
	assert.Equal(t, ids.Account(1001), cfg.Client.OperatorAccountID)
	assert.Equal(t, 512, cfg.Client.ChunkSize)
	assert.Equal(t, 10*time.Minute, cfg.Client.ReceiptCache.LifeWindow)
	assert.Equal(t, "ledgerctl", cfg.SignShare.Name)
	assert.Equal(t, 2112, cfg.Telemetry.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestReadFail(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	_, err = Read(writeFile(t, "broken.yaml", "client: [\n"))
	assert.NotNil(t, err)
}

func TestLoadEnvOverridesOperator(t *testing.T) {
	cfg, err := Read(writeFile(t, "setup.yaml", setup))
	assert.Nil(t, err)

	env := writeFile(t, ".env", EnvOperatorID+"=0.0.2002\n"+EnvOperatorKey+"=ed25519:00\n"+EnvSignShareToken+"=secret\n")
	assert.Nil(t, cfg.LoadEnv(env))

	assert.Equal(t, ids.Account(2002), cfg.Client.OperatorAccountID)
	assert.Equal(t, "ed25519:00", cfg.Client.OperatorKey)
	assert.Equal(t, "", cfg.Client.OperatorKeyFile)
	assert.Equal(t, "secret", cfg.SignShare.Token)
}

func TestProcessEnvTakesPrecedence(t *testing.T) {
	t.Setenv(EnvOperatorID, "0.0.3003")
	var cfg Configuration
	env := writeFile(t, ".env", EnvOperatorID+"=0.0.2002\n")
	assert.Nil(t, cfg.LoadEnv(env))
	assert.Equal(t, ids.Account(3003), cfg.Client.OperatorAccountID)
}

func TestLoadEnvRejectsBadAccount(t *testing.T) {
	var cfg Configuration
	env := writeFile(t, ".env", EnvOperatorID+"=not-an-account\n")
	assert.NotNil(t, cfg.LoadEnv(env))
}
