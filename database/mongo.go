package database

import (
	"context"
	"fmt"
	"time"

	"clinicmsg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ConversationsCollection = "conversations"
	UsersCollection         = "users"
	SubscriptionsCollection = "subscriptions"
)

// Mongo holds the client and the collections the messaging core uses.
type Mongo struct {
	Client        *mongo.Client
	DB            *mongo.Database
	Conversations *mongo.Collection
	Users         *mongo.Collection
	Subscriptions *mongo.Collection
}

// ConnectMongo connects and pings, retrying up to attempts times.
func ConnectMongo(uri, dbName string, attempts int) (*Mongo, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		m, err := connectOnce(uri, dbName)
		if err == nil {
			return m, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", i).Msg("❌ MongoDB connection attempt failed")
		if i < attempts {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("connect mongo: %w", lastErr)
}

func connectOnce(uri, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(dbName)
	return &Mongo{
		Client:        client,
		DB:            db,
		Conversations: db.Collection(ConversationsCollection),
		Users:         db.Collection(UsersCollection),
		Subscriptions: db.Collection(SubscriptionsCollection),
	}, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique sparse
// index on directKey keeps one direct conversation per member pair.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		m.Conversations: {
			{
				Keys:    bson.D{{Key: "directKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true).SetName("unique_direct_pair"),
			},
			{Keys: bson.D{{Key: "members.userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "contextId", Value: 1}}},
		},
		m.Subscriptions: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (m *Mongo) Disconnect() error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Disconnected from MongoDB")
	return nil
}
