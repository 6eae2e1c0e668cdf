package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
)

type chatDoc struct {
	ID            primitive.ObjectID   `bson:"_id"`
	Participants  []primitive.ObjectID `bson:"participants"`
	LastMessage   *primitive.ObjectID  `bson:"lastMessage,omitempty"`
	LastMessageAt time.Time            `bson:"lastMessageAt,omitempty"`
	CreatedAt     time.Time            `bson:"createdAt,omitempty"`
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Chat      primitive.ObjectID `bson:"chat"`
	Sender    primitive.ObjectID `bson:"sender"`
	Text      string             `bson:"text"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type userDoc struct {
	ID      primitive.ObjectID `bson:"_id"`
	ClerkID string             `bson:"clerkId,omitempty"`
	Name    string             `bson:"name"`
	Email   string             `bson:"email"`
	Avatar  string             `bson:"avatar"`
}

// Store is the MongoDB conversation store and user directory.
type Store struct {
	chats    *mongo.Collection
	messages *mongo.Collection
	users    *mongo.Collection
}

// NewStore binds a Store to db.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
		users:    db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the indexes the gateway's queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}

	if _, err := s.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create chats index: %w", err)
	}

	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "clerkId", Value: 1}},
		Options: options.Index().SetSparse(true),
	}); err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	return nil
}

// NewMessageID allocates an ObjectID so message ids sort by creation time.
func (s *Store) NewMessageID() string {
	return primitive.NewObjectID().Hex()
}

func (s *Store) FindConversation(ctx context.Context, id, participant string) (store.Conversation, error) {
	chatID, err1 := primitive.ObjectIDFromHex(id)
	participantID, err2 := primitive.ObjectIDFromHex(participant)
	if err1 != nil || err2 != nil {
		return store.Conversation{}, store.ErrNotFound
	}

	var doc chatDoc
	err := s.chats.FindOne(ctx, bson.M{"_id": chatID, "participants": participantID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Conversation{}, store.ErrNotFound
		}
		return store.Conversation{}, fmt.Errorf("find chat: %w", err)
	}

	return toConversation(doc), nil
}

func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	doc, err := toMessageDoc(msg)
	if err != nil {
		return store.Message{}, err
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.Message{}, store.ErrDuplicate
		}
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *Store) UpdateConversationPointer(ctx context.Context, conversationID, messageID string, at time.Time) error {
	chatID, err1 := primitive.ObjectIDFromHex(conversationID)
	msgID, err2 := primitive.ObjectIDFromHex(messageID)
	if err1 != nil || err2 != nil {
		return store.ErrNotFound
	}

	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{
		"$set": bson.M{"lastMessage": msgID, "lastMessageAt": at, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("update chat pointer: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindUser implements user.Directory.
func (s *Store) FindUser(ctx context.Context, id string) (user.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return user.User{}, user.ErrNotFound
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

// FindUserBySubject resolves an auth provider subject through the clerkId field, falling back
// to treating the subject as the user id.
func (s *Store) FindUserBySubject(ctx context.Context, subject string) (user.User, error) {
	u, err := s.findUser(ctx, bson.M{"clerkId": subject})
	if errors.Is(err, user.ErrNotFound) {
		return s.FindUser(ctx, subject)
	}
	return u, err
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (user.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("find user: %w", err)
	}
	return toUser(doc), nil
}

func toConversation(doc chatDoc) store.Conversation {
	conv := store.Conversation{
		ID:            doc.ID.Hex(),
		Participants:  make([]string, 0, len(doc.Participants)),
		LastMessageAt: doc.LastMessageAt,
		CreatedAt:     doc.CreatedAt,
	}
	for _, p := range doc.Participants {
		conv.Participants = append(conv.Participants, p.Hex())
	}
	if doc.LastMessage != nil {
		conv.LastMessageID = doc.LastMessage.Hex()
	}
	return conv
}

func toMessageDoc(msg store.Message) (messageDoc, error) {
	id, err := primitive.ObjectIDFromHex(msg.ID)
	if err != nil {
		return messageDoc{}, fmt.Errorf("message id %q: %w", msg.ID, err)
	}
	chatID, err := primitive.ObjectIDFromHex(msg.ConversationID)
	if err != nil {
		return messageDoc{}, store.ErrNotFound
	}
	senderID, err := primitive.ObjectIDFromHex(msg.SenderID)
	if err != nil {
		return messageDoc{}, fmt.Errorf("sender id %q: %w", msg.SenderID, err)
	}

	return messageDoc{
		ID:        id,
		Chat:      chatID,
		Sender:    senderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.CreatedAt,
	}, nil
}

func toUser(doc userDoc) user.User {
	return user.User{
		ID:     doc.ID.Hex(),
		Name:   doc.Name,
		Email:  doc.Email,
		Avatar: doc.Avatar,
	}
}
