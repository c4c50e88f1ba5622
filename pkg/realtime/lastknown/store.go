package lastknown

import (
	"context"
	"errors"

	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("no last known record for bus")

type Reader interface {
	LastKnown(ctx context.Context, busID string) (*ctdf.BusLastKnown, error)
}

type Writer interface {
	WriteLastKnown(ctx context.Context, update ctdf.BusLastKnownUpdate) error
}

// BatchWriter applies a batch of updates in order
type BatchWriter interface {
	WriteLastKnownBatch(ctx context.Context, updates []ctdf.BusLastKnownUpdate) error
}

var trackerProjection = bson.D{
	{Key: "primaryidentifier", Value: 1},
	{Key: "currentLocation", Value: 1},
	{Key: "lastLocationUpdate", Value: 1},
	{Key: "tripStatus", Value: 1},
	{Key: "lastAccuracy", Value: 1},
}

// MongoStore reads and writes the tracker fields of the buses collection
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore() *MongoStore {
	return &MongoStore{
		collection: database.GetCollection(database.BusesCollection),
	}
}

func (m *MongoStore) LastKnown(ctx context.Context, busID string) (*ctdf.BusLastKnown, error) {
	var record *ctdf.BusLastKnown

	err := m.collection.FindOne(ctx, bson.M{"primaryidentifier": busID}, options.FindOne().SetProjection(trackerProjection)).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (m *MongoStore) WriteLastKnown(ctx context.Context, update ctdf.BusLastKnownUpdate) error {
	_, err := m.collection.BulkWrite(ctx, []mongo.WriteModel{updateModel(update)}, &options.BulkWriteOptions{})

	return err
}

func (m *MongoStore) WriteLastKnownBatch(ctx context.Context, updates []ctdf.BusLastKnownUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	var operations []mongo.WriteModel
	for _, update := range updates {
		operations = append(operations, updateModel(update))
	}

	_, err := m.collection.BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(true))

	return err
}

// ActiveBuses returns the buses whose last persisted trip status is active
func (m *MongoStore) ActiveBuses(ctx context.Context) ([]*ctdf.BusLastKnown, error) {
	cursor, err := m.collection.Find(ctx, bson.M{
		"tripStatus":      ctdf.TripStatusActive,
		"currentLocation": bson.M{"$exists": true},
	}, options.Find().SetProjection(trackerProjection))
	if err != nil {
		return nil, err
	}

	var records []*ctdf.BusLastKnown
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// Status only updates never create a bus record
func updateModel(update ctdf.BusLastKnownUpdate) *mongo.UpdateOneModel {
	set := bson.M{
		"tripStatus": update.TripStatus,
	}

	upsert := false
	if update.Reading != nil {
		set["currentLocation"] = update.Reading.GeoPoint()
		set["lastLocationUpdate"] = update.RecordedAt
		set["lastAccuracy"] = update.Reading.AccuracyMeters

		upsert = true
	}

	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"primaryidentifier": update.BusID}).
		SetUpdate(bson.M{"$set": set}).
		SetUpsert(upsert)
}
