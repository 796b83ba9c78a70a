package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/probemanager/pkg/config/configstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ configstore.ConfigStore = (*MongoStore)(nil)
	_ configstore.Watcher     = (*MongoStore)(nil)
)

// MongoStore keeps one configuration document, selected by ID, in a
// collection.
type MongoStore struct {
	Collection *mongo.Collection
	ID         string
}

func New(client *mongo.Client, dbName, collName, id string) *MongoStore {
	return &MongoStore{
		Collection: client.Database(dbName).Collection(collName),
		ID:         id,
	}
}

func (m *MongoStore) Load(out any) error {
	res := m.Collection.FindOne(context.Background(), bson.M{"_id": m.ID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("document with ID %q not found", m.ID)
		}
		return fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

func (m *MongoStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	_, err := m.Collection.ReplaceOne(
		context.Background(),
		bson.M{"_id": m.ID},
		in,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("Save: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

// Watch follows the document through a change stream, or the whole
// collection when ID is empty. It requires a replica set deployment.
func (m *MongoStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}
	pipeline := mongo.Pipeline{}
	if m.ID != "" {
		pipeline = mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": m.ID}}}}
	}
	stream, err := m.Collection.Watch(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			onChange()
		}
	}()
	return nil
}
