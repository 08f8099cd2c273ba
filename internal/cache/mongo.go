package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// MongoStore keeps one document per key with _id set to the key.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mongoDocument is the stored shape: the record plus its key as _id.
type mongoDocument struct {
	Key       string              `bson:"_id"`
	Info      models.LocationInfo `bson:"info"`
	Timestamp int64               `bson:"timestamp"`
}

// NewMongoStore connects to uri and verifies the connection within timeout.
func NewMongoStore(ctx context.Context, uri, database, collection string, timeout time.Duration) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", ErrCacheUnavailable, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping: %v", ErrCacheUnavailable, err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Get implements Store.Get.
func (s *MongoStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	var doc mongoDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.CacheRecord{}, false, nil
		}
		return models.CacheRecord{}, false, fmt.Errorf("%w: mongo find %s: %v", ErrCacheUnavailable, key, err)
	}
	return models.CacheRecord{Info: doc.Info, Timestamp: doc.Timestamp}, true, nil
}

// Set implements Store.Set as an upsert; existing documents are overwritten.
func (s *MongoStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"info": value.Info, "timestamp": value.Timestamp}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: mongo upsert %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Ping checks if mongo is reachable. Used for health checks.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: mongo ping: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Close disconnects the client. Call during shutdown.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
