// Package mongo hosts the MongoDB client used by the agent state and task
// message stores.
package mongo

//go:generate cmg gen .

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/state"
)

const (
	defaultStatesCollection   = "agent_states"
	defaultMessagesCollection = "task_messages"
	defaultOpTimeout          = 5 * time.Second
	storeClientName           = "store-mongo"
)

// ErrMessageNotFound is returned when updating a message that does not exist.
var ErrMessageNotFound = errors.New("task message not found")

// Client exposes Mongo-backed operations for agent state and task messages.
type Client interface {
	health.Pinger

	LoadState(ctx context.Context, taskID, agentID string) (*state.Record, error)
	CreateState(ctx context.Context, taskID, agentID string, data map[string]any) (*state.Record, error)
	UpdateState(ctx context.Context, id, taskID, agentID string, data map[string]any) (*state.Record, error)

	CreateMessage(ctx context.Context, taskID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error)
	UpdateMessage(ctx context.Context, taskID, messageID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error)
	ListMessages(ctx context.Context, taskID string) ([]*message.TaskMessage, error)
}

// Options configures the Mongo store client.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	StatesCollection   string
	MessagesCollection string
	Timeout            time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	states   collection
	messages collection
	timeout  time.Duration
	now      func() time.Time
}

// New returns a Client backed by MongoDB. It creates the indexes used by the
// state and message lookups.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	statesCollection := opts.StatesCollection
	if statesCollection == "" {
		statesCollection = defaultStatesCollection
	}
	messagesCollection := opts.MessagesCollection
	if messagesCollection == "" {
		messagesCollection = defaultMessagesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	states := mongoCollection{coll: db.Collection(statesCollection)}
	messages := mongoCollection{coll: db.Collection(messagesCollection)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, states, messages); err != nil {
		return nil, err
	}
	return newClientWithCollections(opts.Client, states, messages, timeout)
}

func (c *client) Name() string {
	return storeClientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadState(ctx context.Context, taskID, agentID string) (*state.Record, error) {
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"task_id": taskID, "agent_id": agentID}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc stateDocument
	if err := c.states.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return doc.toRecord()
}

func (c *client) CreateState(ctx context.Context, taskID, agentID string, data map[string]any) (*state.Record, error) {
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	encoded, err := toBSON(data)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	now := c.now().UTC()
	id := uuid.NewString()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.states.InsertOne(ctx, bson.M{
		"_id":        id,
		"task_id":    taskID,
		"agent_id":   agentID,
		"data":       encoded,
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	return c.loadStateByID(ctx, id)
}

func (c *client) UpdateState(ctx context.Context, id, taskID, agentID string, data map[string]any) (*state.Record, error) {
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("state: record id is required")
	}
	encoded, err := toBSON(data)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": id, "task_id": taskID, "agent_id": agentID}
	update := bson.M{"$set": bson.M{"data": encoded, "updated_at": c.now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc stateDocument
	if err := c.states.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return doc.toRecord()
}

// loadStateByID returns the state record with the given id.
func (c *client) loadStateByID(ctx context.Context, id string) (*state.Record, error) {
	var doc stateDocument
	if err := c.states.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return doc.toRecord()
}

func (c *client) CreateMessage(ctx context.Context, taskID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if content == nil {
		return nil, errors.New("content is required")
	}
	encoded, err := toBSON(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	now := c.now().UTC()
	id := uuid.NewString()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.messages.InsertOne(ctx, bson.M{
		"_id":              id,
		"task_id":          taskID,
		"content":          encoded,
		"streaming_status": string(status),
		"created_at":       now,
		"updated_at":       now,
	})
	if err != nil {
		return nil, err
	}
	var doc messageDocument
	if err := c.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toMessage()
}

func (c *client) UpdateMessage(ctx context.Context, taskID, messageID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	if content == nil {
		return nil, errors.New("content is required")
	}
	encoded, err := toBSON(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": messageID, "task_id": taskID}
	update := bson.M{"$set": bson.M{
		"content":          encoded,
		"streaming_status": string(status),
		"updated_at":       c.now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc messageDocument
	if err := c.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return doc.toMessage()
}

func (c *client) ListMessages(ctx context.Context, taskID string) ([]*message.TaskMessage, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.messages.Find(ctx, bson.M{"task_id": taskID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*message.TaskMessage
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		msg, err := doc.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type stateDocument struct {
	ID        string    `bson:"_id"`
	TaskID    string    `bson:"task_id"`
	AgentID   string    `bson:"agent_id"`
	Data      bson.Raw  `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type messageDocument struct {
	ID              string    `bson:"_id"`
	TaskID          string    `bson:"task_id"`
	Content         bson.Raw  `bson:"content"`
	StreamingStatus string    `bson:"streaming_status"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (doc stateDocument) toRecord() (*state.Record, error) {
	var data map[string]any
	if err := fromBSON(doc.Data, &data); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", doc.ID, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return &state.Record{
		ID:        doc.ID,
		TaskID:    doc.TaskID,
		AgentID:   doc.AgentID,
		Data:      data,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

func (doc messageDocument) toMessage() (*message.TaskMessage, error) {
	msg := &message.TaskMessage{
		ID:              doc.ID,
		TaskID:          doc.TaskID,
		StreamingStatus: message.StreamingStatus(doc.StreamingStatus),
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	if len(doc.Content) == 0 {
		return msg, nil
	}
	data, err := bson.MarshalExtJSON(doc.Content, false, false)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", doc.ID, err)
	}
	c, err := message.UnmarshalContent(data)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", doc.ID, err)
	}
	msg.Content = c
	return msg, nil
}

// toBSON converts a JSON-serializable value into a BSON document so stored
// values keep their JSON shape.
func toBSON(v any) (bson.D, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromBSON(raw bson.Raw, v any) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func ensureIndexes(ctx context.Context, states, messages collection) error {
	stateIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "task_id", Value: 1},
			{Key: "agent_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	}
	if _, err := states.Indexes().CreateOne(ctx, stateIndex); err != nil {
		return err
	}
	messageIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "task_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}
	if _, err := messages.Indexes().CreateOne(ctx, messageIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollections(mongoClient *mongodriver.Client, states, messages collection, timeout time.Duration) (*client, error) {
	if states == nil || messages == nil {
		return nil, errors.New("collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:    mongoClient,
		states:   states,
		messages: messages,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	InsertOne(ctx context.Context, doc any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOneAndUpdate(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc, opts...)
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
