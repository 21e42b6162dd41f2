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

// MongoConversations stores each conversation as one document with its
// messages embedded.
type MongoConversations struct {
	coll      *mongo.Collection
	usersFrom string
	window    int

	Now func() time.Time
}

func NewMongoConversations(coll *mongo.Collection, usersCollection string, window int) *MongoConversations {
	return &MongoConversations{
		coll:      coll,
		usersFrom: usersCollection,
		window:    window,
		Now:       time.Now,
	}
}

// summaryRow is a conversation without its messages, plus the tail message
// and the member profiles joined from users.
type summaryRow struct {
	models.Conversation `bson:",inline"`
	LastMessage         *models.Message `bson:"lastMessage,omitempty"`
	Profiles            []models.User   `bson:"profiles"`
}

func (s *MongoConversations) recent(n int) *options.FindOneOptions {
	return options.FindOne().SetProjection(bson.M{"messages": bson.M{"$slice": -n}})
}

func (s *MongoConversations) findOne(ctx context.Context, filter bson.M, n int) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.coll.FindOne(ctx, filter, s.recent(n)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("conversation", nil)
	}
	if err != nil {
		return nil, apperr.Internal("failed to fetch conversation", err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}

func (s *MongoConversations) FindDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	return s.findOne(ctx, bson.M{"directKey": models.DirectKey(a, b)}, s.window)
}

func (s *MongoConversations) CreateDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	if a == b {
		return nil, apperr.BadRequest("a direct conversation needs two distinct members", nil)
	}

	conv := models.NewDirectConversation(a, b, s.Now().UnixMilli())
	_, err := s.coll.InsertOne(ctx, conv)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a first-contact race; the winner's document is the conversation.
		return s.FindDirectConversation(ctx, a, b)
	}
	if err != nil {
		return nil, apperr.Internal("failed to create conversation", err)
	}
	return &conv, nil
}

func (s *MongoConversations) CreateConversation(ctx context.Context, in NewConversation) (*models.Conversation, error) {
	if in.Type == models.TypeDirect {
		return nil, apperr.BadRequest("conversation type is required", nil)
	}

	conv := newTypedConversation(in, s.Now().UnixMilli())
	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		return nil, apperr.Internal("failed to create conversation", err)
	}
	return &conv, nil
}

func (s *MongoConversations) FindConversation(ctx context.Context, id, viewer primitive.ObjectID, page Page) (*models.Conversation, error) {
	if page.Limit <= 0 {
		page.Limit = s.window
	}
	if page.Skip < 0 {
		page.Skip = 0
	}

	filter := bson.M{"_id": id}
	if !viewer.IsZero() {
		filter["members.userId"] = viewer
	}

	conv, err := s.findOne(ctx, filter, page.Limit+page.Skip)
	if err != nil {
		return nil, err
	}
	conv.Messages = models.Window(conv.Messages, page.Limit, page.Skip)
	return conv, nil
}

func (s *MongoConversations) FindMessage(ctx context.Context, conversationID, messageID primitive.ObjectID) (*models.Message, error) {
	var conv models.Conversation
	err := s.coll.FindOne(ctx,
		bson.M{"_id": conversationID, "messages._id": messageID},
		options.FindOne().SetProjection(bson.M{"messages.$": 1}),
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(conv.Messages) == 0) {
		return nil, apperr.NotFound("message", nil)
	}
	if err != nil {
		return nil, apperr.Internal("failed to fetch message", err)
	}
	return &conv.Messages[0], nil
}

// AppendMessage pushes msg guarded by the document version, so a concurrent
// append forces a re-read of the tail instead of an out-of-order timestamp.
func (s *MongoConversations) AppendMessage(ctx context.Context, conversationID primitive.ObjectID, msg models.Message) (*models.Conversation, *models.Message, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		head, err := s.findOne(ctx, bson.M{"_id": conversationID}, 1)
		if err != nil {
			return nil, nil, err
		}

		msg.CreatedAt = nextCreatedAt(s.Now().UnixMilli(), head.TailCreatedAt())
		update := bson.M{
			"$push": bson.M{"messages": msg},
			"$inc":  bson.M{"version": 1},
			"$set":  bson.M{"updatedAt": msg.CreatedAt},
		}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"messages": bson.M{"$slice": -s.window}})

		var updated models.Conversation
		err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": conversationID, "version": head.Version}, update, opts).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, nil, apperr.Internal("failed to append message", err)
		}
		return &updated, &msg, nil
	}
	return nil, nil, apperr.Conflict("conversation is busy, retry the send", nil)
}

func (s *MongoConversations) MarkSeenForUser(ctx context.Context, conversationID, userID primitive.ObjectID) (bool, error) {
	filter := bson.M{"_id": conversationID, "members.userId": userID}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{
			"m.senderId": bson.M{"$ne": userID},
			"m.seenBy":   bson.M{"$ne": userID},
		}},
	})

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$addToSet": bson.M{"messages.$[m].seenBy": userID}}, opts)
	if err != nil {
		return false, apperr.Internal("failed to mark messages as seen", err)
	}
	if res.MatchedCount == 0 {
		return false, apperr.NotFound("conversation", nil)
	}
	if res.ModifiedCount == 0 {
		return false, nil
	}

	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"updatedAt": s.Now().UnixMilli()}}); err != nil {
		return true, apperr.Internal("failed to touch conversation", err)
	}
	return true, nil
}

func (s *MongoConversations) ListConversationsForUser(ctx context.Context, userID primitive.ObjectID, opts ListOptions) ([]models.Summary, error) {
	match := bson.D{{Key: "members.userId", Value: userID}}
	if opts.RequireNonEmpty {
		match = append(match, bson.E{Key: "messages.0", Value: bson.D{{Key: "$exists", Value: true}}})
	}
	return s.summaries(ctx, userID, match, nil)
}

// UnseenConversationsForUser filters on the newest message only: a viewer
// who saw the latest message is caught up.
func (s *MongoConversations) UnseenConversationsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Summary, error) {
	match := bson.D{{Key: "members.userId", Value: userID}}
	tail := bson.D{
		{Key: "lastMessage._id", Value: bson.D{{Key: "$exists", Value: true}}},
		{Key: "lastMessage.senderId", Value: bson.D{{Key: "$ne", Value: userID}}},
		{Key: "lastMessage.seenBy", Value: bson.D{{Key: "$ne", Value: userID}}},
	}
	return s.summaries(ctx, userID, match, tail)
}

func (s *MongoConversations) summaries(ctx context.Context, viewer primitive.ObjectID, match, tail bson.D) ([]models.Summary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "lastMessage", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$messages", -1}}}},
		}}},
		{{Key: "$project", Value: bson.D{{Key: "messages", Value: 0}}}},
	}
	if len(tail) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: tail}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: s.usersFrom},
		{Key: "localField", Value: "members.userId"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "profiles"},
	}}})

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Internal("failed to fetch conversations", err)
	}
	defer cursor.Close(ctx)

	var rows []summaryRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperr.Internal("failed to decode conversations", err)
	}

	out := make([]models.Summary, 0, len(rows))
	for i := range rows {
		conv := rows[i].Conversation
		conv.Messages = nil
		if rows[i].LastMessage != nil {
			conv.Messages = []models.Message{*rows[i].LastMessage}
		}
		out = append(out, models.Summarize(&conv, viewer, profileIndex(rows[i].Profiles)))
	}
	return out, nil
}

func (s *MongoConversations) AddMember(ctx context.Context, conversationID, userID primitive.ObjectID) (*models.Conversation, error) {
	conv, err := s.findOne(ctx, bson.M{"_id": conversationID}, 0)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		return nil, apperr.BadRequest("members of a direct conversation cannot change", nil)
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID, "members.userId": bson.M{"$ne": userID}},
		bson.M{
			"$push": bson.M{"members": models.Member{UserID: userID}},
			"$set":  bson.M{"updatedAt": s.Now().UnixMilli()},
		},
	)
	if err != nil {
		return nil, apperr.Internal("failed to add member", err)
	}
	return s.FindConversation(ctx, conversationID, primitive.NilObjectID, Page{Limit: s.window})
}

func (s *MongoConversations) SetMuted(ctx context.Context, conversationID, userID primitive.ObjectID, muted bool) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID, "members.userId": userID},
		bson.M{"$set": bson.M{"members.$.isMuted": muted}},
	)
	if err != nil {
		return apperr.Internal("failed to update member", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("conversation", nil)
	}
	return nil
}

// ToggleReaction rewrites the message's reactions under the same version
// guard as AppendMessage, so two members reacting at once cannot overwrite
// each other.
func (s *MongoConversations) ToggleReaction(ctx context.Context, conversationID, messageID, userID primitive.ObjectID, emoji string) (*models.Message, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var head models.Conversation
		err := s.coll.FindOne(ctx,
			bson.M{"_id": conversationID, "messages._id": messageID},
			options.FindOne().SetProjection(bson.M{"messages.$": 1, "version": 1}),
		).Decode(&head)
		if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(head.Messages) == 0) {
			return nil, apperr.NotFound("message", nil)
		}
		if err != nil {
			return nil, apperr.Internal("failed to fetch message", err)
		}

		msg := head.Messages[0]
		msg.ToggleReaction(userID, emoji)
		reactions := msg.Reactions
		if reactions == nil {
			reactions = []models.Reaction{}
		}

		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": conversationID, "version": head.Version, "messages._id": messageID},
			bson.M{
				"$set": bson.M{"messages.$.reactions": reactions},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return nil, apperr.Internal("failed to update reactions", err)
		}
		if res.MatchedCount == 0 {
			continue
		}
		return &msg, nil
	}
	return nil, apperr.Conflict("message is busy, retry the reaction", nil)
}
