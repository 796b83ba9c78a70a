// Package config loads the probemanager configuration from a YAML file or a
// MongoDB document, then applies .env and PROBEMANAGER_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andrej220/probemanager/pkg/config/configstore"
	"github.com/andrej220/probemanager/pkg/config/filestore"
	"github.com/andrej220/probemanager/pkg/config/mongostore"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

const EnvPrefix = "PROBEMANAGER_"

var (
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Config combines the store capabilities.
type Config interface {
	configstore.ConfigStore
	configstore.Watcher
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri" json:"uri"`
	DBName         string        `yaml:"dbName" json:"dbName"`
	CollName       string        `yaml:"collName" json:"collName"`
	ID             string        `yaml:"id" json:"id"` // Document ID
	ConnectTimeout time.Duration `yaml:"connectTimeout" json:"connectTimeout"`
	ConnectRetries uint64        `yaml:"connectRetries" json:"connectRetries"`
}

// NewStore returns the backend for storeType. A MongoStore reuses client.
func NewStore(storeType StoreType, cfg any, client *mongo.Client) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		if client == nil {
			return nil, fmt.Errorf("mongo store requires a connected client")
		}
		return mongostore.New(client, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

type RemoteConfig struct {
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	KnownHostsFile  string        `yaml:"knownHostsFile" json:"knownHostsFile"`
	DialTimeout     time.Duration `yaml:"dialTimeout" json:"dialTimeout"`
	BreakerFailures uint32        `yaml:"breakerFailures" json:"breakerFailures"`
	BreakerTimeout  time.Duration `yaml:"breakerTimeout" json:"breakerTimeout"`
}

// StoreConfig selects the probe store. Inventory seeds the memory backend; an
// empty one starts with no probes.
type StoreConfig struct {
	Backend   string      `yaml:"backend" json:"backend" validate:"oneof=memory mongo"`
	Inventory string      `yaml:"inventory" json:"inventory"`
	Mongo     MongoConfig `yaml:"mongo" json:"mongo"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	GroupID string   `yaml:"groupId" json:"groupId"`
}

type JobsConfig struct {
	Backend      string        `yaml:"backend" json:"backend" validate:"oneof=pool kafka"`
	Workers      int           `yaml:"workers" json:"workers" validate:"min=0"`
	MaxAttempts  uint64        `yaml:"maxAttempts" json:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay" json:"initialDelay"`
	Kafka        KafkaConfig   `yaml:"kafka" json:"kafka"`
}

type SMTPConfig struct {
	Host         string `yaml:"host" json:"host" validate:"required"`
	Port         int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	User         string `yaml:"user" json:"user"`
	From         string `yaml:"from" json:"from" validate:"required,email"`
	TLS          bool   `yaml:"tls" json:"tls"`
	PasswordFile string `yaml:"passwordFile" json:"passwordFile"`
}

// AppConfig is the whole probemanager configuration.
type AppConfig struct {
	Server        ServerConfig `yaml:"server" json:"server"`
	Remote        RemoteConfig `yaml:"remote" json:"remote"`
	Store         StoreConfig  `yaml:"store" json:"store"`
	Jobs          JobsConfig   `yaml:"jobs" json:"jobs"`
	SecretKeyFile string       `yaml:"secretKeyFile" json:"secretKeyFile"`
	Schedule      bool         `yaml:"schedule" json:"schedule"`
	StatusWorkers int          `yaml:"statusWorkers" json:"statusWorkers"`
	SMTP          *SMTPConfig  `yaml:"smtp,omitempty" json:"smtp,omitempty"`
}

// Default returns the configuration used for every unset field.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Remote: RemoteConfig{Timeout: 2 * time.Minute},
		Store: StoreConfig{
			Backend: "memory",
			Mongo:   MongoConfig{URI: "mongodb://localhost:27017", DBName: "probemanager", CollName: "config", ID: "probemanager", ConnectRetries: 5},
		},
		Jobs: JobsConfig{
			Backend:     "pool",
			Workers:     4,
			MaxAttempts: 1,
			Kafka:       KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "probemanager-jobs", GroupID: "probeworker"},
		},
		Schedule:      true,
		StatusWorkers: 8,
	}
}

var validate = validator.New()

func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Load reads path on top of Default. Variables from envFile, when it exists,
// are exported first; PROBEMANAGER_* variables then override the file.
func Load(path, envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default()
	if path != "" {
		if err := filestore.New(path).Load(&cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type override struct {
	name  string
	apply func(c *AppConfig, v string) error
}

var overrides = []override{
	{"SERVER_ADDR", func(c *AppConfig, v string) error { c.Server.Addr = v; return nil }},
	{"REMOTE_TIMEOUT", func(c *AppConfig, v string) error { return setDuration(&c.Remote.Timeout, v) }},
	{"KNOWN_HOSTS", func(c *AppConfig, v string) error { c.Remote.KnownHostsFile = v; return nil }},
	{"STORE_BACKEND", func(c *AppConfig, v string) error { c.Store.Backend = v; return nil }},
	{"INVENTORY", func(c *AppConfig, v string) error { c.Store.Inventory = v; return nil }},
	{"MONGO_URI", func(c *AppConfig, v string) error { c.Store.Mongo.URI = v; return nil }},
	{"MONGO_DB", func(c *AppConfig, v string) error { c.Store.Mongo.DBName = v; return nil }},
	{"JOBS_BACKEND", func(c *AppConfig, v string) error { c.Jobs.Backend = v; return nil }},
	{"JOBS_WORKERS", func(c *AppConfig, v string) error { return setInt(&c.Jobs.Workers, v) }},
	{"KAFKA_BROKERS", func(c *AppConfig, v string) error { c.Jobs.Kafka.Brokers = splitList(v); return nil }},
	{"KAFKA_TOPIC", func(c *AppConfig, v string) error { c.Jobs.Kafka.Topic = v; return nil }},
	{"SECRET_KEY_FILE", func(c *AppConfig, v string) error { c.SecretKeyFile = v; return nil }},
}

// ApplyEnv applies PROBEMANAGER_* overrides found through lookup.
func ApplyEnv(c *AppConfig, lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
