package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// MongoStore is a MongoDB implementation of the RegistrationStore interface.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and uses the registrations collection of database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: client, collection: client.Database(database).Collection("registrations")}, nil
}

// Migrate creates the unique index on (workflow_id, tenant_key).
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "tenant_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Upsert saves a registration. Code and created_at are only written on insert.
func (s *MongoStore) Upsert(ctx context.Context, reg *models.Registration) error {
	update := bson.M{
		"$set": bson.M{
			"status":     reg.Status,
			"updated_at": reg.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"code":       reg.Code,
			"created_at": reg.CreatedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.Registration
	err := s.collection.FindOneAndUpdate(ctx, keyFilter(reg.Key()), update, opts).Decode(&stored)
	if err != nil {
		return err
	}
	reg.Code = stored.Code
	reg.CreatedAt = stored.CreatedAt
	return nil
}

// Get retrieves a registration by its key.
func (s *MongoStore) Get(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	var reg models.Registration
	err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&reg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// List returns every registration ordered by creation.
func (s *MongoStore) List(ctx context.Context) ([]*models.Registration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "workflow_id", Value: 1}, {Key: "tenant_key", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var regs []*models.Registration
	if err := cursor.All(ctx, &regs); err != nil {
		return nil, err
	}
	return regs, nil
}

// SetStatus updates the status of a registration.
func (s *MongoStore) SetStatus(ctx context.Context, key models.RegistrationKey, status models.RegistrationStatus, at time.Time) error {
	result, err := s.collection.UpdateOne(ctx, keyFilter(key), bson.M{
		"$set": bson.M{"status": status, "updated_at": at},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func keyFilter(key models.RegistrationKey) bson.M {
	return bson.M{"workflow_id": key.WorkflowID, "tenant_key": key.TenantKey}
}
