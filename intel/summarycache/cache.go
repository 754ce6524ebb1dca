// Package summarycache hosts the MongoDB-backed cache for post
// classifications. Monitors classify the same post once even across workflow
// retries because lookups are keyed by post-content hash.
package summarycache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"github.com/reachforge/outreach/intel"
)

const (
	defaultCollection = "post_summaries"
	defaultOpTimeout  = 5 * time.Second
	cacheClientName   = "summary-mongo"
)

type (
	// Client exposes Mongo-backed summary cache operations.
	Client interface {
		health.Pinger
		intel.Cache
	}

	// Options configures the cache client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	summaryDocument struct {
		Key        string    `bson:"key"`
		Summary    string    `bson:"summary"`
		IsCritical bool      `bson:"is_critical"`
		CreatedAt  time.Time `bson:"created_at"`
	}
)

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

// Dial connects to the given URI, verifies the connection and returns a
// Client. The caller owns the underlying driver client through Disconnect.
func Dial(ctx context.Context, uri string, opts Options) (Client, *mongodriver.Client, error) {
	if uri == "" {
		return nil, nil, errors.New("mongo URI is required")
	}
	mc, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if err := mc.Ping(pctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, nil, err
	}
	opts.Client = mc
	cl, err := New(opts)
	if err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, nil, err
	}
	return cl, mc, nil
}

func (c *client) Name() string {
	return cacheClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Get returns the cached summary for key, reporting whether one exists.
func (c *client) Get(ctx context.Context, key string) (*intel.Summary, bool, error) {
	if key == "" {
		return nil, false, errors.New("cache key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc summaryDocument
	if err := c.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &intel.Summary{Summary: doc.Summary, IsCritical: doc.IsCritical}, true, nil
}

// Put upserts the summary for key.
func (c *client) Put(ctx context.Context, key string, s intel.Summary) error {
	if key == "" {
		return errors.New("cache key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"key": key}
	update := bson.M{
		"$set": bson.M{
			"key":         key,
			"summary":     s.Summary,
			"is_critical": s.IsCritical,
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC(),
		},
	}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
