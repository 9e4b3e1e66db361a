package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eventra/payment-settlement/internal/observability"
)

// CatalogRepository is the denormalized event read model kept for the
// non-transactional surfaces: notification payload enrichment and listing
// screens. The transactional copy of the event lives in CockroachDB.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          uuid.UUID `bson:"_id"`
	OrganizerID uuid.UUID `bson:"organizer_id"`
	Name        string    `bson:"name"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, err
	}
	if err != nil {
		c.logger.Error("failed to get event doc", err)
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) UpsertEvent(ctx context.Context, event EventDoc) error {
	now := time.Now().UTC()
	event.UpdatedAt = now
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": event.ID}, event, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.Error("failed to upsert event doc", err)
		return err
	}
	return nil
}
