// Package store holds the durable-storage and shared-cache adapters used
// around the realtime core: MongoDB for messages, users and conversations,
// and Redis for the cross-node presence mirror.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// Collection names shared with the REST API.
const (
	messagesCollection      = "messages"
	usersCollection         = "users"
	conversationsCollection = "conversations"
)

var (
	// ErrInvalidID is returned for an id that is not a Mongo ObjectID.
	ErrInvalidID = errors.New("store: invalid object id")
	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = errors.New("store: conversation not found")
)

// Mongo implements realtime.Store on the chat database.
type Mongo struct {
	client        *mongo.Client
	messages      *mongo.Collection
	users         *mongo.Collection
	conversations *mongo.Collection
}

var _ realtime.Store = (*Mongo)(nil)

// NewMongo connects to uri and checks the primary is reachable.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}

	db := client.Database(database)
	return &Mongo{
		client:        client,
		messages:      db.Collection(messagesCollection),
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
	}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return errors.Wrap(m.client.Disconnect(ctx), "disconnect mongo")
}

// MarkMessagesSeen sets seen on every unseen message of the conversation that
// was not sent by exceptUser.
func (m *Mongo) MarkMessagesSeen(ctx context.Context, conversation realtime.ConversationID, exceptUser realtime.UserID) error {
	conv, err := objectID(string(conversation))
	if err != nil {
		return err
	}
	except, err := objectID(string(exceptUser))
	if err != nil {
		return err
	}

	_, err = m.messages.UpdateMany(ctx, seenFilter(conv, except), bson.M{"$set": bson.M{"seen": true}})
	return errors.Wrapf(err, "mark messages seen in %s", conversation)
}

// RecordLastSeen stores at as the user's lastSeen.
func (m *Mongo) RecordLastSeen(ctx context.Context, user realtime.UserID, at time.Time) error {
	id, err := objectID(string(user))
	if err != nil {
		return err
	}
	_, err = m.users.UpdateByID(ctx, id, bson.M{"$set": bson.M{"lastSeen": at}})
	return errors.Wrapf(err, "record lastSeen of %s", user)
}

// Participants returns the member ids of a conversation.
func (m *Mongo) Participants(ctx context.Context, conversation realtime.ConversationID) ([]realtime.UserID, error) {
	id, err := objectID(string(conversation))
	if err != nil {
		return nil, err
	}

	var doc struct {
		Participants []primitive.ObjectID `bson:"participants"`
	}
	err = m.conversations.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"participants": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(ErrConversationNotFound, "%s", conversation)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load conversation %s", conversation)
	}

	users := make([]realtime.UserID, len(doc.Participants))
	for i, p := range doc.Participants {
		users[i] = realtime.UserID(p.Hex())
	}
	return users, nil
}

func seenFilter(conversation, except primitive.ObjectID) bson.M {
	return bson.M{
		"conversationId": conversation,
		"senderId":       bson.M{"$ne": except},
		"seen":           false,
	}
}

func objectID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(ErrInvalidID, "%q", hex)
	}
	return id, nil
}
