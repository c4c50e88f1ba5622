package subscriptions

import (
	"errors"
	"sync"

	"github.com/travigo/bustracker/pkg/ctdf"
)

var (
	ErrQueueFull = errors.New("subscriber queue full")
	ErrClosed    = errors.New("subscriber connection closed")
)

// Connection is a live subscriber. Deliver must not block; it returns ErrQueueFull when the
// connection cannot keep up and ErrClosed once it has gone away.
type Connection interface {
	ID() string
	Deliver(event ctdf.Event) error
	Close()
}

// Registry tracks which connections are interested in which bus topics. It only does membership
// bookkeeping and never calls into the connections.
type Registry struct {
	mutex sync.RWMutex

	topics      map[string]map[string]Connection
	connections map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		topics:      map[string]map[string]Connection{},
		connections: map[string]map[string]struct{}{},
	}
}

// Subscribe adds the connection to the bus topic. Subscribing twice to the same bus is a no-op.
// It reports whether a new membership was created.
func (r *Registry) Subscribe(connection Connection, busID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	members, exists := r.topics[busID]
	if !exists {
		members = map[string]Connection{}
		r.topics[busID] = members
	}

	if _, subscribed := members[connection.ID()]; subscribed {
		return false
	}
	members[connection.ID()] = connection

	topics, exists := r.connections[connection.ID()]
	if !exists {
		topics = map[string]struct{}{}
		r.connections[connection.ID()] = topics
	}
	topics[busID] = struct{}{}

	return true
}

func (r *Registry) Unsubscribe(connection Connection, busID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.remove(connection.ID(), busID)
}

// UnsubscribeAll drops every membership of the connection and returns the topics it left
func (r *Registry) UnsubscribeAll(connection Connection) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	topics := r.topicsOf(connection.ID())
	for _, busID := range topics {
		r.remove(connection.ID(), busID)
	}

	return topics
}

// MembersOf returns a snapshot of the topic's connections that is safe to iterate while
// memberships change
func (r *Registry) MembersOf(busID string) []Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	members := make([]Connection, 0, len(r.topics[busID]))
	for _, connection := range r.topics[busID] {
		members = append(members, connection)
	}

	return members
}

func (r *Registry) TopicsOf(connection Connection) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.topicsOf(connection.ID())
}

// Count returns the number of members of the topic
func (r *Registry) Count(busID string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.topics[busID])
}

func (r *Registry) remove(connectionID string, busID string) bool {
	members, exists := r.topics[busID]
	if !exists {
		return false
	}
	if _, subscribed := members[connectionID]; !subscribed {
		return false
	}

	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.topics, busID)
	}

	if topics, exists := r.connections[connectionID]; exists {
		delete(topics, busID)
		if len(topics) == 0 {
			delete(r.connections, connectionID)
		}
	}

	return true
}

func (r *Registry) topicsOf(connectionID string) []string {
	topics := make([]string, 0, len(r.connections[connectionID]))
	for busID := range r.connections[connectionID] {
		topics = append(topics, busID)
	}

	return topics
}
