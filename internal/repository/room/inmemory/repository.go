package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/musicsync/server/internal/repository/room"
)

type entry struct {
	mu    sync.Mutex
	state room.Room
	// deleted is set under mu when the entry leaves the map, so an Update
	// that raced with DeleteIf does not act on a dead room.
	deleted bool
}

type repo struct {
	rooms  map[string]*entry
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:  make(map[string]*entry),
		logger: logger,
	}
}

func (r *repo) lookup(roomID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.rooms[roomID]
	return e, ok
}

func (r *repo) Create(ctx context.Context, params *room.CreateParams) error {
	funcName := "room.inmemory.Create"
	r.logger.DebugContext(ctx, funcName, "room_id", params.Room.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[params.Room.ID]; ok {
		r.logger.InfoContext(ctx, funcName, "error", room.ErrRoomAlreadyExists)
		return room.ErrRoomAlreadyExists
	}

	state := params.Room.Clone()
	r.rooms[params.Room.ID] = &entry{state: state}

	r.logger.DebugContext(ctx, funcName, "result", "OK")
	return nil
}

// Get returns a copy of the room state.
func (r *repo) Get(ctx context.Context, roomID string) (room.Room, error) {
	funcName := "room.inmemory.Get"
	r.logger.DebugContext(ctx, funcName, "room_id", roomID)

	e, ok := r.lookup(roomID)
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return room.Room{}, room.ErrRoomNotFound
	}

	return e.state.Clone(), nil
}

// Update runs fn with exclusive access to the room state. The registry lock
// is released before fn runs so other rooms are never blocked by it.
func (r *repo) Update(ctx context.Context, roomID string, fn func(*room.Room) error) error {
	funcName := "room.inmemory.Update"
	r.logger.DebugContext(ctx, funcName, "room_id", roomID)

	e, ok := r.lookup(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return room.ErrRoomNotFound
	}

	return fn(&e.state)
}

// DeleteIf removes the room when pred holds. pred runs under the room lock
// while the registry lock is held, so the id is free again as soon as the
// entry is marked deleted.
func (r *repo) DeleteIf(ctx context.Context, roomID string, pred func(*room.Room) bool) (bool, error) {
	funcName := "room.inmemory.DeleteIf"
	r.logger.DebugContext(ctx, funcName, "room_id", roomID)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return false, room.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted || !pred(&e.state) {
		return false, nil
	}
	e.deleted = true
	delete(r.rooms, roomID)

	r.logger.DebugContext(ctx, funcName, "result", "OK")
	return true, nil
}

func (r *repo) ListIDs(ctx context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}

	return ids
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
