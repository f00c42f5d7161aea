package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type CollectionOperations interface {
	ReplaceOne(ctx context.Context, filter bson.M, document interface{}) error
	BulkWrite(ctx context.Context, operations []mongo.WriteModel, opts *options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	FindOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) *mongo.SingleResult
	CountDocuments(ctx context.Context, filter bson.M, opts ...*options.CountOptions) (int64, error)
	CreateIndex(ctx context.Context, index mongo.IndexModel) error
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (r *mongoRepository) Collection(name string) CollectionOperations {
	return &mongoCollection{
		coll: r.client.Database(r.dbName).Collection(name),
	}
}

// ReplaceOne upserts document under filter, stamping updated_at. Callers own retries.
func (c *mongoCollection) ReplaceOne(ctx context.Context, filter bson.M, document interface{}) error {
	doc, err := toDocument(document)
	if err != nil {
		return err
	}
	doc["updated_at"] = time.Now()

	if _, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

func toDocument(document interface{}) (bson.M, error) {
	if doc, ok := document.(bson.M); ok {
		return doc, nil
	}
	docBytes, err := bson.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(docBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

type BulkWriteError struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64
	Err           error
}

func (r *BulkWriteError) Error() string {
	return r.Err.Error()
}

func (r *BulkWriteError) Unwrap() error {
	return r.Err
}

// BulkWrite runs operations in concurrent batches. Callers own retries.
func (c *mongoCollection) BulkWrite(ctx context.Context, operations []mongo.WriteModel, opts *options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if len(operations) == 0 {
		return &mongo.BulkWriteResult{UpsertedIDs: make(map[int64]interface{})}, nil
	}
	const batchSize = 1000 // MongoDB recommended batch size

	g, ctx := errgroup.WithContext(ctx)
	results := make([]*mongo.BulkWriteResult, (len(operations)+batchSize-1)/batchSize)

	for i := 0; i < len(operations); i += batchSize {
		batchIndex := i / batchSize
		end := min(i+batchSize, len(operations))
		batch := operations[i:end]

		g.Go(func() error {
			// Check if context was cancelled by another goroutine's error
			if ctx.Err() != nil {
				return ctx.Err()
			}

			result, err := c.coll.BulkWrite(ctx, batch, opts)
			if err != nil {
				return fmt.Errorf("failed to execute bulk write batch: %w", err)
			}
			results[batchIndex] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		bulkWriteError := &BulkWriteError{Err: err}
		for _, result := range results {
			if result != nil {
				bulkWriteError.InsertedCount += result.InsertedCount
				bulkWriteError.MatchedCount += result.MatchedCount
				bulkWriteError.ModifiedCount += result.ModifiedCount
				bulkWriteError.DeletedCount += result.DeletedCount
				bulkWriteError.UpsertedCount += result.UpsertedCount
			}
		}
		return nil, bulkWriteError
	}

	finalResult := &mongo.BulkWriteResult{
		UpsertedIDs: make(map[int64]interface{}),
	}
	for _, result := range results {
		finalResult.InsertedCount += result.InsertedCount
		finalResult.MatchedCount += result.MatchedCount
		finalResult.ModifiedCount += result.ModifiedCount
		finalResult.DeletedCount += result.DeletedCount
		finalResult.UpsertedCount += result.UpsertedCount
		for k, v := range result.UpsertedIDs {
			finalResult.UpsertedIDs[k] = v
		}
	}
	return finalResult, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) *mongo.SingleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter bson.M, opts ...*options.CountOptions) (int64, error) {
	count, err := c.coll.CountDocuments(ctx, filter, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (c *mongoCollection) CreateIndex(ctx context.Context, index mongo.IndexModel) error {
	if _, err := c.coll.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}
