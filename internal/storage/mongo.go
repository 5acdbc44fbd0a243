package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"multiapi-go/internal/credential"
)

// MongoStore keeps credentials and daily aggregates in two
// collections. Increments use $inc so concurrent writers never lose a
// count.
type MongoStore struct {
	client   *mongo.Client
	database string
}

type mongoCredential struct {
	Provider     string `bson:"provider"`
	Identifier   string `bson:"identifier"`
	Endpoint     string `bson:"endpoint,omitempty"`
	DailyLimit   int    `bson:"daily_limit"`
	CurrentUsage int    `bson:"current_usage"`
	LastReset    string `bson:"last_reset"`
	IsActive     bool   `bson:"is_active"`
	Priority     int    `bson:"priority"`
}

type mongoDaily struct {
	Date      string           `bson:"date"`
	Total     int64            `bson:"total"`
	Success   int64            `bson:"success"`
	Failed    int64            `bson:"failed"`
	Providers map[string]int64 `bson:"providers"`
}

func NewMongoStore(uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "multiapi"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(5*time.Second).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	return &MongoStore{client: client, database: database}, nil
}

func (m *MongoStore) credentials() *mongo.Collection {
	return m.client.Database(m.database).Collection("credentials")
}

func (m *MongoStore) daily() *mongo.Collection {
	return m.client.Database(m.database).Collection("daily_usage")
}

func (m *MongoStore) Initialize(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo store: ping: %w", err)
	}
	_, err := m.credentials().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "identifier", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo store: credentials index: %w", err)
	}
	_, err = m.daily().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo store: daily index: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) ListCredentials(ctx context.Context) ([]credential.State, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	cur, err := m.credentials().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "provider", Value: 1}, {Key: "identifier", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo store: list credentials: %w", err)
	}
	defer cur.Close(ctx)

	var out []credential.State
	for cur.Next(ctx) {
		var doc mongoCredential
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo store: decode credential: %w", err)
		}
		active := doc.IsActive
		out = append(out, credential.State{
			Identifier:   doc.Identifier,
			Provider:     doc.Provider,
			Endpoint:     doc.Endpoint,
			DailyLimit:   doc.DailyLimit,
			CurrentUsage: doc.CurrentUsage,
			LastReset:    doc.LastReset,
			IsActive:     &active,
			Priority:     doc.Priority,
		})
	}
	return out, cur.Err()
}

func (m *MongoStore) SaveCredential(ctx context.Context, st credential.State) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	doc := mongoCredential{
		Provider:     st.Provider,
		Identifier:   st.Identifier,
		Endpoint:     st.Endpoint,
		DailyLimit:   st.DailyLimit,
		CurrentUsage: st.CurrentUsage,
		LastReset:    st.LastReset,
		IsActive:     st.IsActive == nil || *st.IsActive,
		Priority:     st.Priority,
	}
	_, err := m.credentials().ReplaceOne(ctx,
		bson.M{"provider": st.Provider, "identifier": st.Identifier},
		doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo store: save credential: %w", err)
	}
	return nil
}

func (m *MongoStore) UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := m.credentials().UpdateOne(ctx,
		bson.M{"provider": provider, "identifier": identifier},
		bson.M{"$set": bson.M{"current_usage": usage, "last_reset": lastReset}})
	if err != nil {
		return fmt.Errorf("mongo store: update usage: %w", err)
	}
	if res.MatchedCount == 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return nil
}

func (m *MongoStore) DeleteCredential(ctx context.Context, provider, identifier string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := m.credentials().DeleteOne(ctx,
		bson.M{"provider": provider, "identifier": identifier})
	if err != nil {
		return fmt.Errorf("mongo store: delete credential: %w", err)
	}
	if res.DeletedCount == 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return nil
}

func (m *MongoStore) IncrementDaily(ctx context.Context, date, provider string, success bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	inc := bson.M{"total": 1, "providers." + provider: 1}
	if success {
		inc["success"] = 1
	} else {
		inc["failed"] = 1
	}
	_, err := m.daily().UpdateOne(ctx,
		bson.M{"date": date},
		bson.M{"$inc": inc},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo store: increment daily: %w", err)
	}
	return nil
}

func (m *MongoStore) GetDaily(ctx context.Context, date string) (DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var doc mongoDaily
	err := m.daily().FindOne(ctx, bson.M{"date": date}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DailyStats{}, &ErrNotFound{Key: date}
	}
	if err != nil {
		return DailyStats{}, fmt.Errorf("mongo store: get daily: %w", err)
	}
	return dailyFromDoc(doc), nil
}

func (m *MongoStore) ListDaily(ctx context.Context) ([]DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	cur, err := m.daily().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo store: list daily: %w", err)
	}
	defer cur.Close(ctx)

	var out []DailyStats
	for cur.Next(ctx) {
		var doc mongoDaily
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo store: decode daily: %w", err)
		}
		out = append(out, dailyFromDoc(doc))
	}
	return out, cur.Err()
}

func (m *MongoStore) ExportData(ctx context.Context) (*Export, error) {
	creds, err := m.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := m.ListDaily(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{ExportedAt: time.Now().UTC(), Credentials: creds, Daily: daily}, nil
}

func (m *MongoStore) ImportData(ctx context.Context, data *Export) error {
	for _, st := range data.Credentials {
		if err := m.SaveCredential(ctx, st); err != nil {
			return err
		}
	}
	opCtx, cancel := withOpTimeout(ctx)
	defer cancel()
	for _, day := range data.Daily {
		doc := mongoDaily{
			Date:      day.Date,
			Total:     day.TotalRequests,
			Success:   day.SuccessfulRequests,
			Failed:    day.FailedRequests,
			Providers: day.ProvidersUsed,
		}
		_, err := m.daily().ReplaceOne(opCtx,
			bson.M{"date": day.Date}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("mongo store: import daily: %w", err)
		}
	}
	return nil
}

func dailyFromDoc(doc mongoDaily) DailyStats {
	day := DailyStats{
		Date:               doc.Date,
		TotalRequests:      doc.Total,
		SuccessfulRequests: doc.Success,
		FailedRequests:     doc.Failed,
		ProvidersUsed:      make(map[string]int64, len(doc.Providers)),
	}
	for p, n := range doc.Providers {
		day.ProvidersUsed[p] = n
	}
	return day
}
