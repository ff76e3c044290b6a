package notify

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// HistoryCollection is where every relayed event is archived.
const HistoryCollection = "swap_history"

// Inserter is the slice of *mongo.Collection the archive needs.
type Inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// HistoryRecord is one archived event. The outbox ID is the document ID, so
// a relay retry cannot archive the same event twice.
type HistoryRecord struct {
	ID         string    `bson:"_id"`
	Topic      string    `bson:"topic"`
	Key        string    `bson:"key"`
	Payload    bson.M    `bson:"payload"`
	CreatedAt  time.Time `bson:"created_at"`
	RecordedAt time.Time `bson:"recorded_at"`
}

// HistoryPublisher archives events to MongoDB for the activity history.
type HistoryPublisher struct {
	coll    Inserter
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewHistoryPublisher(coll Inserter, logger *zap.Logger) *HistoryPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryPublisher{coll: coll, timeout: 5 * time.Second, now: time.Now, logger: logger}
}

// ConnectHistory dials uri and returns a publisher over database's history
// collection plus a func that disconnects the client.
func ConnectHistory(ctx context.Context, uri, database string, logger *zap.Logger) (*HistoryPublisher, func() error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("notify: connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("notify: ping mongo: %w", err)
	}
	closer := func() error { return client.Disconnect(context.Background()) }
	return NewHistoryPublisher(client.Database(database).Collection(HistoryCollection), logger), closer, nil
}

func (p *HistoryPublisher) Publish(ctx context.Context, msg Message) error {
	var payload bson.M
	if len(msg.Payload) > 0 {
		if err := bson.UnmarshalExtJSON(msg.Payload, false, &payload); err != nil {
			return fmt.Errorf("notify: decode payload of %s: %w", msg.ID, err)
		}
	}
	rec := HistoryRecord{
		ID:         msg.ID,
		Topic:      msg.Topic,
		Key:        msg.Key,
		Payload:    payload,
		CreatedAt:  msg.CreatedAt,
		RecordedAt: p.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			p.logger.Debug("history: event already archived", zap.String("id", msg.ID))
			return nil
		}
		return fmt.Errorf("notify: archive %s: %w", msg.Topic, err)
	}
	return nil
}

// Fanout publishes to every publisher in order and stops at the first
// failure. The relay then retries the whole message, so each publisher must
// tolerate seeing it again.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg Message) error {
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
