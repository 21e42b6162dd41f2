package store

import (
	"context"
	"errors"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoSubscriptions struct {
	coll *mongo.Collection
}

func NewMongoSubscriptions(coll *mongo.Collection) *MongoSubscriptions {
	return &MongoSubscriptions{coll: coll}
}

// SaveSubscription keeps the latest endpoint per user.
func (s *MongoSubscriptions) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"userId": sub.UserID},
		bson.M{
			"$set":         bson.M{"sub": sub.Sub, "updatedAt": time.Now().UnixMilli()},
			"$setOnInsert": bson.M{"_id": primitive.NewObjectID()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return apperr.Internal("failed to save subscription", err)
	}
	return nil
}

func (s *MongoSubscriptions) FindSubscription(ctx context.Context, userID primitive.ObjectID) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	err := s.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("push subscription", nil)
	}
	if err != nil {
		return nil, apperr.Internal("failed to find subscription", err)
	}
	return &sub, nil
}

func (s *MongoSubscriptions) DeleteSubscription(ctx context.Context, userID primitive.ObjectID) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return apperr.Internal("failed to delete subscription", err)
	}
	return nil
}
