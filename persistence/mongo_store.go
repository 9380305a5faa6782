package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// mongoDoc mirrors Record with bson tags so the collection schema stays
// stable independent of the Go field names.
type mongoDoc struct {
	ID              string         `bson:"_id"`
	SessionID       string         `bson:"session_id"`
	Type            string         `bson:"type"`
	Status          string         `bson:"status"`
	Prompt          string         `bson:"prompt"`
	Response        any            `bson:"response,omitempty"`
	RetryCount      int            `bson:"retry_count"`
	CreatedAt       time.Time      `bson:"created_at"`
	ResolvedAt      time.Time      `bson:"resolved_at"`
	ResponseLatency int64          `bson:"response_latency_ms"`
	Metadata        map[string]any `bson:"metadata,omitempty"`
}

// MongoStore is a MongoDB implementation of Store.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownsClient bool
}

// NewMongoStore connects to MongoDB and prepares the collection indexes.
func NewMongoStore(cfg MongoStoreConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store, err := newMongoStore(ctx, client, cfg)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	store.ownsClient = true
	return store, nil
}

// NewMongoStoreWithClient wraps an existing client whose lifecycle the
// caller manages.
func NewMongoStoreWithClient(ctx context.Context, client *mongo.Client, cfg MongoStoreConfig) (*MongoStore, error) {
	return newMongoStore(ctx, client, cfg)
}

func newMongoStore(ctx context.Context, client *mongo.Client, cfg MongoStoreConfig) (*MongoStore, error) {
	database := cfg.Database
	if database == "" {
		database = "humanloop"
	}
	collName := cfg.Collection
	if collName == "" {
		collName = "interactions"
	}

	coll := client.Database(database).Collection(collName)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "resolved_at", Value: -1}}},
		{Keys: bson.D{{Key: "resolved_at", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoStore{client: client, collection: coll}, nil
}

// Close disconnects the client if this store created it.
func (s *MongoStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks MongoDB connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// SaveInteraction persists one terminal interaction record.
func (s *MongoStore) SaveInteraction(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	doc := mongoDoc{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		Type:            rec.Type,
		Status:          rec.Status,
		Prompt:          rec.Prompt,
		Response:        rec.Response,
		RetryCount:      rec.RetryCount,
		CreatedAt:       rec.CreatedAt,
		ResolvedAt:      rec.ResolvedAt,
		ResponseLatency: rec.ResponseLatency.Milliseconds(),
		Metadata:        rec.Metadata,
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": rec.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetInteractionHistory returns the most recent records for a session.
func (s *MongoStore) GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	return s.find(ctx, bson.M{"session_id": sessionID}, limit)
}

// ExportInteractionData returns records matching the filter, newest first.
func (s *MongoStore) ExportInteractionData(ctx context.Context, filter Filter) ([]*Record, error) {
	query := bson.M{}
	if filter.SessionID != "" {
		query["session_id"] = filter.SessionID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	resolved := bson.M{}
	if !filter.Since.IsZero() {
		resolved["$gte"] = filter.Since
	}
	if !filter.Until.IsZero() {
		resolved["$lte"] = filter.Until
	}
	if len(resolved) > 0 {
		query["resolved_at"] = resolved
	}
	return s.find(ctx, query, filter.Limit)
}

// Cleanup removes records resolved earlier than olderThan ago.
func (s *MongoStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"resolved_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return int(result.DeletedCount), nil
}

// Stats returns statistics about the stored records.
func (s *MongoStore) Stats(ctx context.Context) (*StoreStats, error) {
	cursor, err := s.collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &StoreStats{ByStatus: make(map[string]int)}
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode stats row: %w", err)
		}
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	return stats, cursor.Err()
}

func (s *MongoStore) find(ctx context.Context, query bson.M, limit int) ([]*Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "resolved_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*Record
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &Record{
			ID:              doc.ID,
			SessionID:       doc.SessionID,
			Type:            doc.Type,
			Status:          doc.Status,
			Prompt:          doc.Prompt,
			Response:        doc.Response,
			RetryCount:      doc.RetryCount,
			CreatedAt:       doc.CreatedAt,
			ResolvedAt:      doc.ResolvedAt,
			ResponseLatency: time.Duration(doc.ResponseLatency) * time.Millisecond,
			Metadata:        doc.Metadata,
		})
	}
	return records, cursor.Err()
}
