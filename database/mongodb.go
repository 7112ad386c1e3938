package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

const (
	sessionsCollection = "sessions"
	jobsCollection     = "dispatch_jobs"
)

// ConnectMongoDB establishes connection to MongoDB and returns the session
// and job repositories backed by it.
func ConnectMongoDB(ctx context.Context, cfg *config.Config) (*Stores, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Set client options
	clientOptions := options.Client().
		ApplyURI(cfg.BuildDatabaseURI()).
		SetMaxPoolSize(uint64(cfg.Database.MaxConnections)).
		SetMinPoolSize(uint64(cfg.Database.MinConnections)).
		SetMaxConnIdleTime(cfg.Database.MaxIdleTime)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database.Name)
	log := logger.Component("database")
	log.Info().Str("database", cfg.Database.Name).Msg("connected to MongoDB")

	if err := createIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Stores{
		Sessions: &MongoSessionStore{coll: db.Collection(sessionsCollection), ttl: cfg.Triage.SessionTTL},
		Jobs:     &MongoJobStore{coll: db.Collection(jobsCollection)},
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		close: func(ctx context.Context) error {
			if err := client.Disconnect(ctx); err != nil {
				return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
			}
			log.Info().Msg("disconnected from MongoDB")
			return nil
		},
	}, nil
}

// createIndexes creates necessary indexes
func createIndexes(ctx context.Context, db *mongo.Database) error {
	sessionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "last_activity", Value: 1}},
		},
	}
	if _, err := db.Collection(sessionsCollection).Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	jobIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotence_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
	}
	if _, err := db.Collection(jobsCollection).Indexes().CreateMany(ctx, jobIndexes); err != nil {
		return fmt.Errorf("failed to create dispatch job indexes: %w", err)
	}
	return nil
}

// MongoSessionStore stores one document per user key.
type MongoSessionStore struct {
	coll *mongo.Collection
	ttl  time.Duration
}

func (s *MongoSessionStore) Get(ctx context.Context, userKey string) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	err := s.coll.FindOne(ctx, bson.M{"user_key": userKey}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	sess.Upgrade()
	return &sess, nil
}

func (s *MongoSessionStore) Put(ctx context.Context, session *models.ConversationSession) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"user_key": session.UserKey},
		session,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"last_activity": bson.M{"$lt": now.Add(-s.ttl)}})
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoSessionStore) Count(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	return int(n), err
}

// MongoJobStore relies on the unique idempotence_key index for
// insert-if-absent semantics.
type MongoJobStore struct {
	coll *mongo.Collection
}

func (s *MongoJobStore) Create(ctx context.Context, job *models.DispatchJob) error {
	_, err := s.coll.InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("insert dispatch job: %w", err)
	}
	return nil
}

func (s *MongoJobStore) Update(ctx context.Context, job *models.DispatchJob) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"idempotence_key": job.IdempotenceKey}, job)
	if err != nil {
		return fmt.Errorf("update dispatch job: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *MongoJobStore) Get(ctx context.Context, key string) (*models.DispatchJob, error) {
	var job models.DispatchJob
	err := s.coll.FindOne(ctx, bson.M{"idempotence_key": key}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find dispatch job: %w", err)
	}
	return &job, nil
}

func (s *MongoJobStore) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.DispatchJob, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list dispatch jobs: %w", err)
	}
	var jobs []*models.DispatchJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode dispatch jobs: %w", err)
	}
	return jobs, nil
}

func (s *MongoJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count dispatch jobs: %w", err)
	}
	var rows []struct {
		Status models.JobStatus `bson:"_id"`
		Count  int              `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode job counts: %w", err)
	}
	counts := make(map[models.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
