package ctdf

// GeoPoint is the persisted shape of a bus's current location
type GeoPoint struct {
	Latitude  float64 `json:"lat" bson:"lat"`
	Longitude float64 `json:"lng" bson:"lng"`
}
