package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ohboy/herosync/internal/document"
)

// ConnectMongo opens a connection and returns the client. Caller should call
// client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// MongoRepo is a MongoDB-backed repository. Documents are keyed by the "id"
// field (unique index) and feeds run a single indexed query over
// (updatedAt, id).
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: 1}, {Key: "id", Value: 1}},
	})
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Get(ctx context.Context, id string) (document.Document, error) {
	var d document.Document
	err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return document.Document{}, ErrNotFound
		}
		return document.Document{}, err
	}
	return d, nil
}

func (m *MongoRepo) Set(ctx context.Context, doc document.Document) error {
	_, err := m.col.ReplaceOne(ctx, bson.M{"id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoRepo) Feed(ctx context.Context, since document.Checkpoint, limit int) ([]document.Document, error) {
	// strictly past the checkpoint: greater updatedAt, or equal updatedAt
	// with a lexicographically greater id
	filter := bson.M{"$or": bson.A{
		bson.M{"updatedAt": bson.M{"$gt": since.UpdatedAt}},
		bson.M{"updatedAt": since.UpdatedAt, "id": bson.M{"$gt": since.ID}},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}, {Key: "id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}
