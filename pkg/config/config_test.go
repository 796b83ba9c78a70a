package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrej220/probemanager/pkg/config"
	"github.com/andrej220/probemanager/pkg/config/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `server:
  addr: ":9090"
remote:
  timeout: 45s
  knownHostsFile: /etc/probemanager/known_hosts
store:
  backend: memory
  inventory: /etc/probemanager/inventory.yaml
jobs:
  backend: kafka
  maxAttempts: 3
  kafka:
    brokers: [kafka1:9092]
    topic: jobs
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(write(t, "conf.yaml", sample), "")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "defaults survive")
	assert.Equal(t, 45*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "kafka", cfg.Jobs.Backend)
	assert.Equal(t, uint64(3), cfg.Jobs.MaxAttempts)
	assert.Equal(t, []string{"kafka1:9092"}, cfg.Jobs.Kafka.Brokers)
	assert.Equal(t, "probeworker", cfg.Jobs.Kafka.GroupID)
}

func TestLoadEnvFileAndOverrides(t *testing.T) {
	t.Setenv("PROBEMANAGER_SERVER_ADDR", "")
	os.Unsetenv("PROBEMANAGER_SERVER_ADDR")
	t.Setenv("PROBEMANAGER_KAFKA_BROKERS", "a:9092, b:9092")
	envFile := write(t, ".env", "PROBEMANAGER_SERVER_ADDR=:7070\nPROBEMANAGER_REMOTE_TIMEOUT=5s\n")

	cfg, err := config.Load(write(t, "conf.yaml", sample), envFile)
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("PROBEMANAGER_REMOTE_TIMEOUT") })

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Jobs.Kafka.Brokers)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := config.Load(write(t, "conf.yaml", sample), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := config.Default()
	lookup := func(k string) (string, bool) {
		if k == "PROBEMANAGER_JOBS_WORKERS" {
			return "many", true
		}
		return "", false
	}
	err := config.ApplyEnv(&cfg, lookup)
	assert.ErrorContains(t, err, "PROBEMANAGER_JOBS_WORKERS")
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate(), "memory backend may start empty")

	cfg.Store.Inventory = "inv.yaml"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Backend = "sqlite"
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
	cfg.Store.Backend = "memory"

	cfg.Jobs.Backend = "celery"
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
}

func TestNewStore(t *testing.T) {
	_, err := config.NewStore(config.StoreType(7), nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidStoreType)

	_, err = config.NewStore(config.MongoStore, &config.MongoConfig{}, nil)
	assert.Error(t, err)

	s, err := config.NewStore(config.FileStore, &config.FileConfig{Path: write(t, "c.yaml", sample)}, nil)
	require.NoError(t, err)
	cfg := config.Default()
	require.NoError(t, s.Load(&cfg))
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestFileStoreSaveAndWatch(t *testing.T) {
	path := write(t, "conf.yaml", sample)
	fs := filestore.New(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 8)
	require.NoError(t, fs.Watch(ctx, func() { changed <- struct{}{} }))

	cfg := config.Default()
	require.NoError(t, fs.Load(&cfg))
	cfg.Server.Addr = ":6060"
	require.NoError(t, fs.Save(&cfg))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}

	var again config.AppConfig
	require.NoError(t, fs.Load(&again))
	assert.Equal(t, ":6060", again.Server.Addr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
