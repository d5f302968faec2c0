package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// RoomManager owns the live rooms. Lock order: RoomManager, then Room.
type RoomManager struct {
	pool     *WorkerPool
	notifier core.Notifier
	opts     RoomOptions

	mu    sync.RWMutex
	rooms map[domain.RoomCode]*Room
}

func NewRoomManager(pool *WorkerPool, notifier core.Notifier, opts RoomOptions) *RoomManager {
	return &RoomManager{
		pool:     pool,
		notifier: notifier,
		opts:     opts,
		rooms:    make(map[domain.RoomCode]*Room),
	}
}

// GetOrCreate returns the live room for code, creating it on a pool worker.
// A closed room still in the map is replaced.
func (m *RoomManager) GetOrCreate(code domain.RoomCode) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[code]
	m.mu.RUnlock()
	if ok && !room.Closed() {
		return room, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[code]; ok && !room.Closed() {
		return room, nil
	}
	worker, err := m.pool.Acquire(code)
	if err != nil {
		return nil, err
	}
	room = NewRoom(code, worker, m.notifier, m.opts, m.remove)
	m.rooms[code] = room
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Str("worker", string(worker.ID())).Msg("room created")
	return room, nil
}

func (m *RoomManager) Get(code domain.RoomCode) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[code]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// remove runs when an empty room's grace period elapsed. A room already replaced
// under the same code leaves the worker assignment to its replacement.
func (m *RoomManager) remove(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[room.Code()]; ok && cur != room {
		return
	}
	delete(m.rooms, room.Code())
	m.pool.Release(room.Code(), room.WorkerID())
	log.Info().Str("module", "app.rooms").Str("room", string(room.Code())).Msg("room destroyed")
}

// Detach removes the listed rooms hosted on worker and returns them.
// Rooms with the same code that already moved to another worker are left alone.
func (m *RoomManager) Detach(worker domain.WorkerID, codes []domain.RoomCode) []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(codes))
	for _, code := range codes {
		room, ok := m.rooms[code]
		if !ok || room.WorkerID() != worker {
			continue
		}
		delete(m.rooms, code)
		out = append(out, room)
	}
	return out
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		if !r.Closed() {
			out = append(out, r.Info())
		}
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

// Shutdown closes every room in parallel and empties the manager.
func (m *RoomManager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for code, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, code)
	}
	m.mu.Unlock()

	var wg conc.WaitGroup
	for _, r := range rooms {
		wg.Go(r.Close)
	}
	wg.Wait()
	log.Info().Str("module", "app.rooms").Int("rooms", len(rooms)).Msg("rooms shut down")
}
