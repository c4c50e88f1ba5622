package database

import (
	"context"
	"time"

	"github.com/travigo/bustracker/pkg/util"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "bustracker"

func Connect() error {
	return ConnectMongoDB()
}

func ConnectMongoDB() error {
	connectionString := defaultMongoConnectionString
	dbName := defaultMongoDatabase

	env := util.GetEnvironmentVariables()

	if env["BUSTRACKER_MONGODB_CONNECTION"] != "" {
		connectionString = env["BUSTRACKER_MONGODB_CONNECTION"]
	}

	if env["BUSTRACKER_MONGODB_DATABASE"] != "" {
		dbName = env["BUSTRACKER_MONGODB_DATABASE"]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return err
	}

	createIndexes()

	return nil
}

func GetCollection(collectionName string) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName)
}

// Ping checks the connection is still usable
func Ping(ctx context.Context) error {
	return MongoGlobalInstance.Client.Ping(ctx, nil)
}

func Disconnect(ctx context.Context) error {
	if MongoGlobalInstance == nil {
		return nil
	}

	return MongoGlobalInstance.Client.Disconnect(ctx)
}
