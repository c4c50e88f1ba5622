package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const BusesCollection = "buses"

func createIndexes() {
	createBusesIndexes()
}

// The buses collection belongs to the fleet management service, the tracker only adds the
// indexes it needs for lookups and rehydration
func createBusesIndexes() {
	busesCollection := GetCollection(BusesCollection)
	_, err := busesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "tripStatus", Value: 1},
				{Key: "lastLocationUpdate", Value: -1},
			},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
