package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
)

type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: collection,
	}
}

// EnsureIndexes creates the unique idempotency-key index. The index, not
// any prior read, is what makes concurrent duplicate deliveries safe.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	coll := m.client.Database(m.database).Collection(m.collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "correlation_id", Value: 1},
				{Key: "event_type", Value: 1},
				{Key: "channel", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
	})
	return err
}

// entityDoc is the BSON shape of an entity.
type entityDoc struct {
	ID               string    `bson:"_id"`
	Kind             string    `bson:"kind"`
	CorrelationID    string    `bson:"correlation_id"`
	EventType        string    `bson:"event_type"`
	Channel          string    `bson:"channel"`
	Status           string    `bson:"status"`
	Retries          int       `bson:"retries"`
	LastError        string    `bson:"last_error"`
	ProviderRef      string    `bson:"provider_ref"`
	ProviderResponse string    `bson:"provider_response"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
	CompletedAt      time.Time `bson:"completed_at,omitempty"`
}

func toDoc(e *entity.Entity) entityDoc {
	return entityDoc{
		ID:               e.ID,
		Kind:             string(e.Kind),
		CorrelationID:    e.CorrelationID,
		EventType:        e.EventType,
		Channel:          e.Channel,
		Status:           string(e.Status),
		Retries:          e.Retries,
		LastError:        e.LastError,
		ProviderRef:      e.ProviderRef,
		ProviderResponse: e.ProviderResponse,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
		CompletedAt:      e.CompletedAt,
	}
}

func fromDoc(d entityDoc) *entity.Entity {
	return &entity.Entity{
		ID:               d.ID,
		Kind:             entity.Kind(d.Kind),
		CorrelationID:    d.CorrelationID,
		EventType:        d.EventType,
		Channel:          d.Channel,
		Status:           entity.Status(d.Status),
		Retries:          d.Retries,
		LastError:        d.LastError,
		ProviderRef:      d.ProviderRef,
		ProviderResponse: d.ProviderResponse,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		CompletedAt:      d.CompletedAt,
	}
}

func (m *MongoRepository) Insert(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Insert")
	defer span.End()

	start := time.Now()
	coll := m.client.Database(m.database).Collection(m.collection)
	if _, err := coll.InsertOne(ctx, toDoc(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "mongodb", "Insert", 1, time.Since(start))
	return nil
}

func (m *MongoRepository) Update(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Update")
	defer span.End()

	coll := m.client.Database(m.database).Collection(m.collection)
	update := bson.M{
		"$set": bson.M{
			"status":            string(e.Status),
			"retries":           e.Retries,
			"last_error":        e.LastError,
			"provider_ref":      e.ProviderRef,
			"provider_response": e.ProviderResponse,
			"updated_at":        e.UpdatedAt,
			"completed_at":      e.CompletedAt,
		},
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": e.ID}, update)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoRepository) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetByID")
	defer span.End()

	coll := m.client.Database(m.database).Collection(m.collection)
	var doc entityDoc
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return fromDoc(doc), nil
}

func (m *MongoRepository) FindByCorrelation(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FindByCorrelation")
	defer span.End()

	coll := m.client.Database(m.database).Collection(m.collection)
	filter := bson.M{
		"correlation_id": correlationID,
		"event_type":     eventType,
		"channel":        channel,
	}
	var doc entityDoc
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return fromDoc(doc), nil
}

func (m *MongoRepository) FetchRetryable(ctx context.Context, limit int) ([]*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchRetryable")
	defer span.End()

	start := time.Now()
	coll := m.client.Database(m.database).Collection(m.collection)
	filter := bson.M{
		"status":  string(entity.StatusFailed),
		"retries": bson.M{"$lt": entity.MaxRetries},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var entities []*entity.Entity
	for cursor.Next(ctx) {
		var doc entityDoc
		if err := cursor.Decode(&doc); err != nil {
			span.RecordError(err)
			return nil, err
		}
		entities = append(entities, fromDoc(doc))
	}
	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", "FetchRetryable", len(entities), time.Since(start))
	return entities, nil
}
