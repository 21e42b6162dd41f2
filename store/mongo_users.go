package store

import (
	"context"
	"errors"

	"clinicmsg/apperr"
	"clinicmsg/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoUsers struct {
	coll *mongo.Collection
}

func NewMongoUsers(coll *mongo.Collection) *MongoUsers {
	return &MongoUsers{coll: coll}
}

func (s *MongoUsers) FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("user", nil)
	}
	if err != nil {
		return nil, apperr.Internal("failed to fetch user", err)
	}
	return &user, nil
}

func (s *MongoUsers) FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}

	cursor, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, apperr.Internal("failed to fetch users", err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &users); err != nil {
		return nil, apperr.Internal("failed to decode users", err)
	}
	return users, nil
}

func (s *MongoUsers) SetActivity(ctx context.Context, id primitive.ObjectID, online bool, at int64) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"isOnline": online, "lastSeen": at}},
	)
	if err != nil {
		return apperr.Internal("failed to update activity", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user", nil)
	}
	return nil
}
