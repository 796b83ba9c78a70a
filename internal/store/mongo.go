package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/probe"
	"github.com/andrej220/probemanager/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ProbesCollection  = "probes"
	osCollection      = "os_supported"
	keysCollection    = "ssh_keys"
	configsCollection = "configurations"
)

// Connect dials MongoDB and pings it, retrying with exponential backoff.
func Connect(ctx context.Context, cfg config.MongoConfig, logger lg.Logger) (*mongo.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	var client *mongo.Client
	connect := func() error {
		cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		c, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := c.Ping(cctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		client = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	err := backoff.RetryNotify(connect, b, func(err error, next time.Duration) {
		logger.Warn("mongo not ready, retrying", lg.Err(err), lg.Duration("next", next))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to MongoDB", lg.String("db", cfg.DBName))
	return client, nil
}

// Mongo is a ProbeStore backed by a MongoDB database.
type Mongo struct {
	probes  *mongo.Collection
	os      *mongo.Collection
	keys    *mongo.Collection
	configs *mongo.Collection
	now     func() time.Time
}

var _ ProbeStore = (*Mongo)(nil)

// NewMongo opens the store collections and ensures the unique name index.
func NewMongo(ctx context.Context, db *mongo.Database) (*Mongo, error) {
	m := &Mongo{
		probes:  db.Collection(ProbesCollection),
		os:      db.Collection(osCollection),
		keys:    db.Collection(keysCollection),
		configs: db.Collection(configsCollection),
		now:     time.Now,
	}
	unique := mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}
	for _, c := range []*mongo.Collection{m.probes, m.keys, m.configs} {
		if _, err := c.Indexes().CreateOne(ctx, unique); err != nil {
			return nil, fmt.Errorf("create name index on %s: %w", c.Name(), err)
		}
	}
	return m, nil
}

func (m *Mongo) find(ctx context.Context, filter bson.M) (*probe.Record, bool, error) {
	rec := probe.NewRecord()
	err := m.probes.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	return &rec, true, nil
}

func (m *Mongo) GetByID(ctx context.Context, id string) (*probe.Record, bool, error) {
	return m.find(ctx, bson.M{"_id": id})
}

func (m *Mongo) GetByName(ctx context.Context, name string) (*probe.Record, bool, error) {
	return m.find(ctx, bson.M{"name": name})
}

func (m *Mongo) GetAll(ctx context.Context) ([]*probe.Record, error) {
	cur, err := m.probes.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("MongoDB Find failed: %w", err)
	}
	defer cur.Close(ctx)
	var out []*probe.Record
	for cur.Next(ctx) {
		rec := probe.NewRecord()
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode probe: %w", err)
		}
		out = append(out, &rec)
	}
	return out, cur.Err()
}

func (m *Mongo) Save(ctx context.Context, rec *probe.Record) error {
	if rec.ID == "" {
		rec.ID = rec.Name
	}
	if rec.CreatedDate.IsZero() {
		rec.CreatedDate = m.now().UTC()
	}
	old, found, err := m.GetByID(ctx, rec.ID)
	if err != nil {
		return err
	}
	if found {
		if err := checkUpdate(old, rec); err != nil {
			return err
		}
	}
	_, err = m.probes.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, rec.Name)
	}
	if err != nil {
		return fmt.Errorf("MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func (m *Mongo) UpdateRulesDate(ctx context.Context, name string, at time.Time) error {
	res, err := m.probes.UpdateOne(ctx, bson.M{"name": name}, bson.M{"$set": bson.M{"rules_updated_date": at.UTC()}})
	if err != nil {
		return fmt.Errorf("MongoDB UpdateOne failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("probe %s: %w", name, ErrNotFound)
	}
	return nil
}

func (m *Mongo) Hydrate(ctx context.Context, rec *probe.Record) error {
	if rec.OSID != "" {
		var o probe.OSSupported
		if ok, err := findRef(ctx, m.os, rec.OSID, &o); err != nil {
			return err
		} else if ok {
			rec.OS = &o
		}
	}
	if rec.SSHKeyID != "" {
		var k probe.SSHKey
		if ok, err := findRef(ctx, m.keys, rec.SSHKeyID, &k); err != nil {
			return err
		} else if ok {
			rec.SSHKey = &k
		}
	}
	if rec.ConfigurationID != "" {
		var c probe.ConfigurationRecord
		if ok, err := findRef(ctx, m.configs, rec.ConfigurationID, &c); err != nil {
			return err
		} else if ok {
			rec.Configuration = &c
		}
	}
	return nil
}

func findRef(ctx context.Context, c *mongo.Collection, id string, out any) (bool, error) {
	err := c.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s %s: %w", c.Name(), id, err)
	}
	return true, nil
}
