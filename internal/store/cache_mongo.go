package store

// cache_mongo.go is the alternate cache-store implementation for
// deployments that want a shared cache across multiple collector/scanner
// replicas instead of the in-process MemoryCache. Connection style is
// grounded on the ndrandal-feed-simulator persist.Store: ApplyURI, Ping on
// connect, database name parsed from the URI path.

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCache backs the Port's cache operations with a Mongo collection of
// {_id, value, expiresAt} documents and a TTL index for passive expiry.
type MongoCache struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoCacheDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// NewMongoCache connects to uri (which should include the database name,
// e.g. mongodb://localhost:27017/catalyst) and ensures the TTL index on
// expiresAt exists. Defaults to database "catalyst" if the URI has no path.
func NewMongoCache(ctx context.Context, uri string) (*MongoCache, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store.NewMongoCache: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store.NewMongoCache: ping: %w", err)
	}

	dbName := "catalyst"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	coll := client.Database(dbName).Collection("cache_entries")
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := coll.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store.NewMongoCache: ensure TTL index: %w", err)
	}

	return &MongoCache{client: client, coll: coll}, nil
}

func (c *MongoCache) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *MongoCache) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var doc mongoCacheDoc
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store.MongoCache.CacheGet: %w", err)
	}
	if time.Now().After(doc.ExpiresAt) {
		return nil, false, nil
	}
	return doc.Value, true, nil
}

func (c *MongoCache) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := mongoCacheDoc{Key: key, Value: value, ExpiresAt: time.Now().Add(ttl)}
	_, err := c.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store.MongoCache.CacheSet: %w", err)
	}
	return nil
}

// CacheInvalidatePattern translates a simple glob into an anchored Mongo
// regex over _id: "." is escaped and "*" becomes ".*"; no other glob or
// regex characters are translated.
func (c *MongoCache) CacheInvalidatePattern(ctx context.Context, pattern string) error {
	regex := "^" + strings.ReplaceAll(strings.ReplaceAll(pattern, ".", `\.`), "*", ".*") + "$"
	_, err := c.coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: regex}}}})
	if err != nil {
		return fmt.Errorf("store.MongoCache.CacheInvalidatePattern: %w", err)
	}
	return nil
}
