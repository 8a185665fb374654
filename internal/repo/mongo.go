package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"bankintake/internal/domain"
)

const eventsCollection = "application_events"

// Mongo keeps one collection per product family plus a shared event log.
// Create and UpdateStatus write the record and its event separately; the
// record write is the one that decides the outcome.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

type applicationDoc struct {
	ID              string     `bson:"_id"`
	ReferenceNumber string     `bson:"referenceNumber"`
	Family          string     `bson:"productFamily"`
	ProductType     string     `bson:"productType"`
	ApplicantName   string     `bson:"applicantName"`
	Fields          bson.M     `bson:"applicantFields"`
	Status          string     `bson:"status"`
	SubmittedAt     time.Time  `bson:"submittedAt"`
	DecidedAt       *time.Time `bson:"decidedAt,omitempty"`
	DecidedBy       string     `bson:"decidedBy,omitempty"`
	UpdatedAt       time.Time  `bson:"updatedAt"`
}

type eventDoc struct {
	ID            primitive.ObjectID `bson:"_id"`
	TS            time.Time          `bson:"ts"`
	Type          string             `bson:"type"`
	ApplicationID string             `bson:"applicationId"`
	Family        string             `bson:"productFamily"`
	ActorID       string             `bson:"actorId"`
	Payload       bson.M             `bson:"payload,omitempty"`
}

// ConnectMongo dials uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(err)
	}
	return NewMongo(client, database), nil
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	return &Mongo{Client: client, DB: client.Database(database)}
}

func (m *Mongo) collection(f domain.Family) *mongo.Collection {
	return m.DB.Collection(f.Plural())
}

// EnsureIndexes creates the unique reference index and the listing indexes.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	for _, f := range domain.Families {
		_, err := m.collection(f).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "referenceNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "submittedAt", Value: -1}}},
			{Keys: bson.D{{Key: "productType", Value: 1}, {Key: "status", Value: 1}}},
		})
		if err != nil {
			return unavailable(fmt.Errorf("indexes for %s: %w", f.Plural(), err))
		}
	}
	_, err := m.DB.Collection(eventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "applicationId", Value: 1}, {Key: "_id", Value: 1}},
	})
	return unavailable(err)
}

func toDoc(app domain.Application) (applicationDoc, error) {
	fields := bson.M{}
	for k, v := range app.Fields {
		if d, ok := v.(decimal.Decimal); ok {
			dec, err := primitive.ParseDecimal128(d.String())
			if err != nil {
				return applicationDoc{}, fmt.Errorf("field %s: %w", k, err)
			}
			fields[k] = dec
			continue
		}
		fields[k] = v
	}
	return applicationDoc{
		ID:              app.ID,
		ReferenceNumber: app.ReferenceNumber,
		Family:          string(app.Family),
		ProductType:     string(app.ProductType),
		ApplicantName:   app.ApplicantName,
		Fields:          fields,
		Status:          string(app.Status),
		SubmittedAt:     app.SubmittedAt.UTC(),
		DecidedAt:       app.DecidedAt,
		DecidedBy:       app.DecidedBy,
		UpdatedAt:       app.UpdatedAt.UTC(),
	}, nil
}

func (d applicationDoc) application() (domain.Application, error) {
	fields := domain.Fields{}
	for k, v := range d.Fields {
		switch x := v.(type) {
		case primitive.Decimal128:
			dec, err := decimal.NewFromString(x.String())
			if err != nil {
				return domain.Application{}, fmt.Errorf("field %s: %w", k, err)
			}
			fields[k] = dec
		case int32:
			fields[k] = decimal.NewFromInt32(x)
		case int64:
			fields[k] = decimal.NewFromInt(x)
		case float64:
			fields[k] = decimal.NewFromFloat(x)
		case string:
			fields[k] = x
		default:
			fields[k] = fmt.Sprint(x)
		}
	}
	app := domain.Application{
		ID:              d.ID,
		ReferenceNumber: d.ReferenceNumber,
		Family:          domain.Family(d.Family),
		ProductType:     domain.ProductType(d.ProductType),
		ApplicantName:   d.ApplicantName,
		Fields:          fields,
		Status:          domain.Status(d.Status),
		SubmittedAt:     d.SubmittedAt.UTC(),
		DecidedBy:       d.DecidedBy,
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.DecidedAt != nil {
		t := d.DecidedAt.UTC()
		app.DecidedAt = &t
	}
	return app, nil
}

func (m *Mongo) appendEvent(ctx context.Context, evt domain.Event) error {
	doc := eventDoc{
		ID:            primitive.NewObjectID(),
		TS:            evt.TS.UTC(),
		Type:          evt.Type,
		ApplicationID: evt.ApplicationID,
		Family:        string(evt.Family),
		ActorID:       evt.ActorID,
	}
	if len(evt.Payload) > 0 {
		doc.Payload = bson.M(evt.Payload)
	}
	_, err := m.DB.Collection(eventsCollection).InsertOne(ctx, doc)
	return err
}

func (m *Mongo) Create(ctx context.Context, app domain.Application, evt domain.Event) error {
	if err := requireFamily(app.Family); err != nil {
		return err
	}
	doc, err := toDoc(app)
	if err != nil {
		return err
	}
	if _, err := m.collection(app.Family).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateReference
		}
		return unavailable(err)
	}
	return unavailable(m.appendEvent(ctx, evt))
}

func (m *Mongo) FindByToken(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	if err := requireFamily(family); err != nil {
		return domain.Application{}, err
	}
	coll := m.collection(family)
	var doc applicationDoc
	err := coll.FindOne(ctx, bson.M{"_id": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = coll.FindOne(ctx, bson.M{"referenceNumber": token}).Decode(&doc)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Application{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Application{}, unavailable(err)
	}
	app, err := doc.application()
	if err != nil {
		return domain.Application{}, unavailable(err)
	}
	return app, nil
}

func mongoFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.ProductType != "" {
		filter["productType"] = string(f.ProductType)
	}
	if f.Query != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Query), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"referenceNumber": re},
			bson.M{"applicantName": re},
		}
	}
	return filter
}

func (m *Mongo) Find(ctx context.Context, f Filter) ([]domain.Application, error) {
	if err := requireFamily(f.Family); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "submittedAt", Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit).SetSkip(f.Skip)
	}
	cur, err := m.collection(f.Family).Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []applicationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	out := make([]domain.Application, 0, len(docs))
	for _, d := range docs {
		app, err := d.application()
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, app)
	}
	return out, nil
}

func (m *Mongo) Count(ctx context.Context, f Filter) (int64, error) {
	if err := requireFamily(f.Family); err != nil {
		return 0, err
	}
	n, err := m.collection(f.Family).CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (m *Mongo) UpdateStatus(ctx context.Context, u StatusUpdate, evt domain.Event) (int64, error) {
	if err := requireFamily(u.Family); err != nil {
		return 0, err
	}
	set := bson.M{
		"status":    string(u.New),
		"decidedAt": u.DecidedAt.UTC(),
		"updatedAt": u.UpdatedAt.UTC(),
	}
	if u.ActorID != "" {
		set["decidedBy"] = u.ActorID
	}
	res, err := m.collection(u.Family).UpdateOne(ctx,
		bson.M{"_id": u.ID, "status": string(u.Expected)},
		bson.M{"$set": set})
	if err != nil {
		return 0, unavailable(err)
	}
	if res.MatchedCount == 0 {
		return 0, nil
	}
	if err := m.appendEvent(ctx, evt); err != nil {
		return res.MatchedCount, unavailable(err)
	}
	return res.MatchedCount, nil
}

func (m *Mongo) Events(ctx context.Context, applicationID string) ([]domain.Event, error) {
	cur, err := m.DB.Collection(eventsCollection).Find(ctx,
		bson.M{"applicationId": applicationID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		evt := domain.Event{
			ID:            d.ID.Hex(),
			TS:            d.TS.UTC(),
			Type:          d.Type,
			ApplicationID: d.ApplicationID,
			Family:        domain.Family(d.Family),
			ActorID:       d.ActorID,
		}
		if len(d.Payload) > 0 {
			evt.Payload = map[string]any(d.Payload)
		}
		out = append(out, evt)
	}
	return out, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return unavailable(m.Client.Ping(ctx, readpref.Primary()))
}

func (m *Mongo) Close() error {
	return m.Client.Disconnect(context.Background())
}
