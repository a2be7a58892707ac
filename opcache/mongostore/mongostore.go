// Package mongostore implements op.Cache on top of the MongoDB driver, for
// deployments that already run MongoDB and want Op output caching
// persisted there instead of Redis or the local filesystem (spec §4.3,
// §6.4 "backend").
package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowllm-ai/flowllm/flowerr"
)

type document struct {
	ID        string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// Store is a MongoDB-collection-backed op.Cache. Callers should also
// create a TTL index on expires_at so expired documents are reclaimed by
// the server; this Store enforces expiry on read regardless, since the
// background TTL sweep runs on its own interval and is not immediate.
type Store struct {
	collection *mongo.Collection
}

// New wraps an existing collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Get returns the cached value for fingerprint, or a miss if absent or
// past its expiry.
func (s *Store) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerr.Wrap(flowerr.KindTransient, err, "mongostore: find %q", fingerprint)
	}
	if doc.ExpiresAt != nil && time.Now().After(*doc.ExpiresAt) {
		_, _ = s.collection.DeleteOne(ctx, bson.M{"_id": fingerprint})
		return nil, false, nil
	}
	return doc.Value, true, nil
}

// Set upserts the document for fingerprint, overwriting any prior entry
// (spec §4.3 "Overwrite semantics").
func (s *Store) Set(ctx context.Context, fingerprint string, value []byte, expire time.Duration) error {
	doc := document{ID: fingerprint, Value: value}
	if expire > 0 {
		exp := time.Now().Add(expire)
		doc.ExpiresAt = &exp
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": fingerprint}, doc, opts)
	if err != nil {
		return flowerr.Wrap(flowerr.KindTransient, err, "mongostore: upsert %q", fingerprint)
	}
	return nil
}
