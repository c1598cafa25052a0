// Package registry tracks connected clients and the rooms they joined.
//
// Both maps are guarded by one lock so a client id present in the client map
// appears in exactly one room member list (and vice versa) at every point
// another goroutine can observe.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrDuplicateClient = errors.New("registry: duplicate client id")
	ErrNotFound        = errors.New("registry: client not found")
	// ErrInconsistent reports a client entry whose room does not list it. The
	// client entry is still removed when this is returned from Unregister.
	ErrInconsistent = errors.New("registry: room membership inconsistent")
)

// Sink accepts outbound frames for one connection. Implementations must not
// block.
type Sink interface {
	Send(frame []byte) error
}

type entry struct {
	sink Sink
	room uint64
}

type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]entry
	rooms   map[uint64][]uint64
}

func New() *Registry {
	return &Registry{
		clients: make(map[uint64]entry),
		rooms:   make(map[uint64][]uint64),
	}
}

// Register adds id to room, creating the room if needed.
func (r *Registry) Register(id uint64, sink Sink, room uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(id, sink, room)
}

// Join registers id in room and returns the sinks of the members that were
// already present, in join order. The snapshot and the insert happen under
// the same lock so two clients joining concurrently always see each other
// exactly once between them.
func (r *Registry) Join(id uint64, sink Sink, room uint64) ([]Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateClient, id)
	}

	members := r.rooms[room]
	prev := make([]Sink, 0, len(members))
	for _, m := range members {
		if e, ok := r.clients[m]; ok {
			prev = append(prev, e.sink)
		}
	}

	if err := r.registerLocked(id, sink, room); err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *Registry) registerLocked(id uint64, sink Sink, room uint64) error {
	if _, ok := r.clients[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateClient, id)
	}
	r.clients[id] = entry{sink: sink, room: room}
	r.rooms[room] = append(r.rooms[room], id)
	return nil
}

func (r *Registry) Lookup(id uint64) (Sink, error) {
	r.mu.RLock()
	e, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.sink, nil
}

// RoomMembers returns a copy of the member list of room in join order. An
// unknown room yields an empty list.
func (r *Registry) RoomMembers(room uint64) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rooms[room])
}

// Unregister removes id from both maps. Rooms left without members are
// deleted.
func (r *Registry) Unregister(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(r.clients, id)

	members := r.rooms[e.room]
	i := slices.Index(members, id)
	if i < 0 {
		return fmt.Errorf("%w: client %d missing from room %d", ErrInconsistent, id, e.room)
	}
	members = slices.Delete(members, i, i+1)
	if len(members) == 0 {
		delete(r.rooms, e.room)
	} else {
		r.rooms[e.room] = members
	}
	return nil
}

// Stats reports the number of non-empty rooms and registered clients.
func (r *Registry) Stats() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.clients)
}
