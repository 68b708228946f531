// Package history keeps a bounded, optionally TTL-expiring record of
// recently published telemetry payloads for operational diagnostics. It
// holds published payloads only — never session or subscription state —
// so it does not touch the persistent-session-storage Non-goal. Mirroring
// to MongoDB is additive and best-effort.
package history

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is one recorded publication.
type Entry struct {
	Topic       string    `bson:"topic" json:"topic"`
	Payload     []byte    `bson:"payload" json:"payload"`
	QoS         byte      `bson:"qos" json:"qos"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
}

// Store records published payloads in a bounded, expiring in-process ring,
// optionally mirroring each entry to a MongoDB collection.
type Store struct {
	ring *expirable.LRU[int, Entry]
	seq  int

	mongoClient *mongo.Client
	mongoColl   *mongo.Collection
}

// New builds a Store with capacity entries expiring after ttl. capacity
// and ttl of zero fall back to sane defaults (200 entries, 1 hour) rather
// than producing a useless zero-capacity ring.
func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 200
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{ring: expirable.NewLRU[int, Entry](capacity, nil, ttl)}
}

// ConnectMongo attaches a MongoDB mirror. Grounded on the teacher's
// internal/database.ConnectDatabase connection setup, simplified to a
// single URI instead of the teacher's assembled host/port/credentials,
// since this store's config surface (config.HistoryConfig.MongoURI) is
// already a complete connection string.
func (s *Store) ConnectMongo(uri, database, collection string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	s.mongoClient = client
	s.mongoColl = client.Database(database).Collection(collection)
	return nil
}

// Close disconnects the MongoDB mirror, if one was attached.
func (s *Store) Close() error {
	if s.mongoClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.mongoClient.Disconnect(ctx)
}

// Record adds entry to the in-process ring and, if attached, mirrors it to
// MongoDB in the background. Never blocks the caller on the Mongo write
// and never returns an error: a tick's publish must not depend on history
// bookkeeping succeeding.
func (s *Store) Record(entry Entry) {
	s.seq++
	s.ring.Add(s.seq, entry)

	if s.mongoColl == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.mongoColl.InsertOne(ctx, bson.M{
			"topic":        entry.Topic,
			"payload":      entry.Payload,
			"qos":          entry.QoS,
			"published_at": entry.PublishedAt,
		}); err != nil {
			logger.WarnF("history: mongo mirror insert failed: %v", err)
		}
	}()
}

// Recent returns every entry currently held, oldest first.
func (s *Store) Recent() []Entry {
	keys := s.ring.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.ring.Get(k); ok {
			out = append(out, e)
		}
	}
	return out
}
