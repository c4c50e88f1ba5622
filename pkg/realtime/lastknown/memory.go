package lastknown

import (
	"context"
	"sync"

	"github.com/travigo/bustracker/pkg/ctdf"
)

// MemoryStore keeps last known records in process. It follows the same update rules as the
// Mongo store and is used for local runs without a database.
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[string]ctdf.BusLastKnown
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]ctdf.BusLastKnown{},
	}
}

func (m *MemoryStore) LastKnown(_ context.Context, busID string) (*ctdf.BusLastKnown, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, exists := m.records[busID]
	if !exists {
		return nil, ErrNotFound
	}

	return &record, nil
}

func (m *MemoryStore) WriteLastKnown(_ context.Context, update ctdf.BusLastKnownUpdate) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.apply(update)

	return nil
}

func (m *MemoryStore) WriteLastKnownBatch(_ context.Context, updates []ctdf.BusLastKnownUpdate) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, update := range updates {
		m.apply(update)
	}

	return nil
}

func (m *MemoryStore) ActiveBuses(_ context.Context) ([]*ctdf.BusLastKnown, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var active []*ctdf.BusLastKnown
	for _, record := range m.records {
		if record.TripStatus == ctdf.TripStatusActive && record.HasLocation() {
			record := record
			active = append(active, &record)
		}
	}

	return active, nil
}

func (m *MemoryStore) apply(update ctdf.BusLastKnownUpdate) {
	record, exists := m.records[update.BusID]
	if !exists && update.Reading == nil {
		return
	}

	record.BusID = update.BusID
	record.TripStatus = update.TripStatus

	if update.Reading != nil {
		record.CurrentLocation = update.Reading.GeoPoint()
		record.LastLocationUpdate = update.RecordedAt
		record.LastAccuracy = update.Reading.AccuracyMeters
	}

	m.records[update.BusID] = record
}
