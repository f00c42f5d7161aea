package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger_operator/internal/config"
	"ledger_operator/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("not found")

const (
	stateCollection  = "state"
	blocksCollection = "blocks"
	stateDocumentID  = "current"
)

type DbRepository interface {
	Health() error
	Disconnect() error
	EnsureIndexes(ctx context.Context) error
	FindState(ctx context.Context) (*models.LedgerState, error)
	ReplaceState(ctx context.Context, state models.LedgerState) error
	FindBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error)
	InsertBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error
	CountBlocks(ctx context.Context, blockNumber uint64) (int64, error)
}

type mongoRepository struct {
	client *mongo.Client
	dbName string
}

func ConnectToDb(config *config.Config, log *slog.Logger) (DbRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	host := config.Db.Host
	port := config.Db.Port
	user := config.Db.User
	password := config.Db.Password
	dbName := config.Db.DbName

	uri := fmt.Sprintf("mongodb://%s:%d", host, port)
	if user != "" && password != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", user, password, host, port)
	}

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	log.Info("✅ Db connected", "database", dbName)

	repo := &mongoRepository{
		client: client,
		dbName: dbName,
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *mongoRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	return r.client.Ping(ctx, nil)
}

func (r *mongoRepository) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return r.client.Disconnect(ctx)
}

func (r *mongoRepository) EnsureIndexes(ctx context.Context) error {
	return r.Collection(blocksCollection).CreateIndex(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "blockNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func (r *mongoRepository) FindState(ctx context.Context) (*models.LedgerState, error) {
	var state models.LedgerState
	if err := r.Collection(stateCollection).FindOne(ctx, bson.M{"_id": stateDocumentID}).Decode(&state); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return &state, nil
}

// ReplaceState swaps the whole state document, so balances and cursor land together.
func (r *mongoRepository) ReplaceState(ctx context.Context, state models.LedgerState) error {
	return r.Collection(stateCollection).ReplaceOne(ctx, bson.M{"_id": stateDocumentID}, state)
}

func (r *mongoRepository) FindBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error) {
	var snapshot models.BlockSnapshot
	if err := r.Collection(blocksCollection).FindOne(ctx, bson.M{"blockNumber": blockNumber}).Decode(&snapshot); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load block %d: %w", blockNumber, err)
	}
	return &snapshot, nil
}

// InsertBlocks writes snapshots that do not exist yet; existing ones are left as they are.
func (r *mongoRepository) InsertBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error {
	operations := make([]mongo.WriteModel, 0, len(snapshots))
	for _, snapshot := range snapshots {
		operations = append(operations, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"blockNumber": snapshot.BlockNumber}).
			SetUpdate(bson.M{"$setOnInsert": snapshot}).
			SetUpsert(true))
	}
	if _, err := r.Collection(blocksCollection).BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to save block snapshots: %w", err)
	}
	return nil
}

func (r *mongoRepository) CountBlocks(ctx context.Context, blockNumber uint64) (int64, error) {
	return r.Collection(blocksCollection).CountDocuments(ctx, bson.M{"blockNumber": blockNumber}, options.Count().SetLimit(1))
}
