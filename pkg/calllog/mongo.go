package calllog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/mongo"
)

const collectionName = "call_records"

// MongoSink appends records to the call_records collection.
type MongoSink struct {
	client *mongo.Client
	logger *zap.Logger
	// writes are serialized so records land in append order
	mu sync.Mutex
}

func NewMongoSink(ctx context.Context, client *mongo.Client, logger *zap.Logger) *MongoSink {
	if err := client.EnsureIndex(ctx, collectionName, "started_at", false); err != nil {
		logger.Warn("Failed to create call record index", zap.Error(err))
	}
	return &MongoSink{client: client, logger: logger}
}

func (s *MongoSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.client.NewQuery(collectionName).Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

func (s *MongoSink) Recent(ctx context.Context, offset, limit int) ([]Record, error) {
	var records []Record
	err := s.client.NewQuery(collectionName).
		Sort("started_at", false).
		Skip(int64(offset)).
		Limit(int64(limit)).
		FindInto(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return records, nil
}
