package runtime

import (
	"cursor-chat/clock"
	"cursor-chat/contract"
	"cursor-chat/domain"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry keeps the rooms one client has joined, all sharing a transport.
type Registry struct {
	mu        sync.RWMutex
	log       *slog.Logger
	clock     clock.Clock
	transport contract.Transport
	identity  domain.Identity
	opts      Options
	rooms     map[domain.RoomID]*Room
}

func NewRegistry(log *slog.Logger, clk clock.Clock, transport contract.Transport,
	identity domain.Identity, opts Options) *Registry {
	return &Registry{
		log:       log,
		clock:     clk,
		transport: transport,
		identity:  identity,
		opts:      opts,
		rooms:     make(map[domain.RoomID]*Room),
	}
}

// Join returns the room, creating and connecting it on first use.
func (r *Registry) Join(id domain.RoomID) *Room {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		room = NewRoom(r.log, r.clock, r.transport, r.identity, id, r.opts)
		r.rooms[id] = room
	}
	r.mu.Unlock()

	if !ok {
		room.Join()
	}
	return room
}

func (r *Registry) Get(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Leave closes the room and forgets it. Unknown rooms are ignored.
func (r *Registry) Leave(id domain.RoomID) {
	r.mu.Lock()
	room, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()

	if ok {
		room.Close()
	}
}

// Rooms lists joined room ids in lexical order.
func (r *Registry) Rooms() []domain.RoomID {
	r.mu.RLock()
	ids := lo.Keys(r.rooms)
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Close() {
	r.mu.Lock()
	rooms := lo.Values(r.rooms)
	r.rooms = make(map[domain.RoomID]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
