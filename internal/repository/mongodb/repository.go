package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

const defaultReportLimit = 20

// Repository defines the interface for cycle report storage.
type Repository interface {
	SaveCycleReport(ctx context.Context, report models.CycleReport) error
	LatestCycleReports(ctx context.Context, limit int64) ([]models.CycleReport, error)
}

// MongoDBRepository implements the Repository interface for MongoDB.
type MongoDBRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// NewMongoDBRepository creates a new MongoDB repository.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return newRepository(client, dbName), nil
}

func newRepository(client *mongo.Client, dbName string) *MongoDBRepository {
	return &MongoDBRepository{
		client:   client,
		dbName:   dbName,
		collName: "cycle_reports",
	}
}

func (r *MongoDBRepository) collection() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(r.collName)
}

// SaveCycleReport saves a cycle report to the database.
func (r *MongoDBRepository) SaveCycleReport(ctx context.Context, report models.CycleReport) error {
	_, err := r.collection().InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to insert cycle report: %w", err)
	}
	return nil
}

// LatestCycleReports returns up to limit reports, newest first.
func (r *MongoDBRepository) LatestCycleReports(ctx context.Context, limit int64) ([]models.CycleReport, error) {
	if limit <= 0 {
		limit = defaultReportLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle reports: %w", err)
	}
	defer cursor.Close(ctx)

	reports := make([]models.CycleReport, 0, limit)
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode cycle reports: %w", err)
	}
	return reports, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
