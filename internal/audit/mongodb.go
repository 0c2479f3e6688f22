package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/x402svm/facilitator/internal/metrics"
)

const auditCollection = "audit_events"

// MongoJournal persists audit events to MongoDB. Unlike the postgres
// journal it owns its client, so Close disconnects.
type MongoJournal struct {
	client  *mongo.Client
	coll    *mongo.Collection
	metrics *metrics.Metrics
}

// NewMongoJournal connects to MongoDB and verifies the connection with a
// ping. The metrics collector is optional.
func NewMongoJournal(ctx context.Context, uri, database string, m *metrics.Metrics) (*MongoJournal, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoJournal{
		client:  client,
		coll:    client.Database(database).Collection(auditCollection),
		metrics: m,
	}, nil
}

func (j *MongoJournal) Record(ctx context.Context, event Event) error {
	defer metrics.MeasureDBQuery(j.metrics, "insert_event", "mongodb")()
	_, err := j.coll.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (j *MongoJournal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.client.Disconnect(ctx)
}
