package history

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/siostam/siostam/pkg/topo"
)

// MongoConfig configures the MongoDB archive backend.
type MongoConfig struct {
	// URI is the MongoDB connection string, e.g. "mongodb://localhost:27017".
	URI string

	// Database defaults to "siostam".
	Database string

	// Collection defaults to "snapshots".
	Collection string
}

// MongoStore archives snapshots in a MongoDB collection, one document
// per generation.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// document is the archived form of a snapshot. The snapshot itself is
// stored as canonical JSON so the archive round-trips exactly what the
// server published.
type document struct {
	Generation uint64    `bson:"generation"`
	Taken      time.Time `bson:"taken"`
	Nodes      int       `bson:"nodes"`
	Edges      int       `bson:"edges"`
	Snapshot   []byte    `bson:"snapshot"`
}

// NewMongoStore connects to MongoDB and ensures the generation index.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Database == "" {
		cfg.Database = "siostam"
	}
	if cfg.Collection == "" {
		cfg.Collection = "snapshots"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "generation", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// Append implements Store. Re-appending an archived generation is a
// no-op thanks to the unique index.
func (m *MongoStore) Append(ctx context.Context, s *topo.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = m.coll.InsertOne(ctx, document{
		Generation: s.Generation,
		Taken:      s.Taken,
		Nodes:      len(s.Nodes),
		Edges:      len(s.Edges),
		Snapshot:   data,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Get implements Store.
func (m *MongoStore) Get(ctx context.Context, generation uint64) (*topo.Snapshot, error) {
	var doc document
	err := m.coll.FindOne(ctx, bson.M{"generation": generation}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var s topo.Snapshot
	if err := json.Unmarshal(doc.Snapshot, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Generations implements Store.
func (m *MongoStore) Generations(ctx context.Context) ([]uint64, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "generation", Value: 1}}).
		SetProjection(bson.M{"generation": 1})
	cursor, err := m.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var generations []uint64
	for cursor.Next(ctx) {
		var doc struct {
			Generation uint64 `bson:"generation"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		generations = append(generations, doc.Generation)
	}
	return generations, cursor.Err()
}

// Close implements Store.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MongoStore)(nil)
)
