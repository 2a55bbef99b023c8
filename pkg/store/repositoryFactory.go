package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zoff-tech/go-eventbus/pkg/config"
)

// Function-typed constructors so tests can substitute backends without
// reaching into the factory switch.
var (
	NewSpannerRepositoryFactory = func(client *spanner.Client) EntityRepository {
		return NewSpannerRepository(client)
	}
	NewMongoRepositoryFactory = func(client *mongo.Client, database, collection string) EntityRepository {
		return NewMongoRepository(client, database, collection)
	}
)

func NewRepository(ctx context.Context, cfg config.DbSettings) (EntityRepository, error) {
	switch cfg.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		repo := NewMongoRepositoryFactory(client, cfg.DBName, cfg.Collection)
		if m, ok := repo.(*MongoRepository); ok {
			if err := m.EnsureIndexes(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewSpannerRepositoryFactory(client), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
