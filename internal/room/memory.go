package room

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps rooms in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[int64]*Room
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[int64]*Room)}
}

func (s *MemoryStore) Insert(ctx context.Context, key, creatorID string, now time.Time) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if r.Key == key {
			return Room{}, ErrKeyTaken
		}
	}

	s.nextID++
	r := &Room{
		ID:           s.nextID,
		Key:          key,
		CreatorID:    creatorID,
		MemberIDs:    []string{},
		LastActiveAt: now,
	}
	s.rooms[r.ID] = r
	return clone(r), nil
}

func (s *MemoryStore) ByID(ctx context.Context, id int64) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) ByKey(ctx context.Context, key string) (Room, error) {
	return s.find(func(r *Room) bool { return r.Key == key })
}

func (s *MemoryStore) ByCreator(ctx context.Context, creatorID string) (Room, error) {
	return s.find(func(r *Room) bool { return r.CreatorID == creatorID })
}

func (s *MemoryStore) ByMember(ctx context.Context, userID string) (Room, error) {
	return s.find(func(r *Room) bool { return slices.Contains(r.MemberIDs, userID) })
}

func (s *MemoryStore) MoveMember(ctx context.Context, roomID int64, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}

	s.removeLocked(userID)
	target.MemberIDs = append(target.MemberIDs, userID)
	target.LastActiveAt = now
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(userID)
	return nil
}

func (s *MemoryStore) TouchOccupied(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.rooms {
		if len(r.MemberIDs) > 0 {
			r.LastActiveAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.rooms {
		if len(r.MemberIDs) == 0 && r.LastActiveAt.Before(cutoff) {
			delete(s.rooms, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

// find returns the lowest-id room matching fn.
func (s *MemoryStore) find(fn func(r *Room) bool) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Room
	for _, r := range s.rooms {
		if fn(r) && (found == nil || r.ID < found.ID) {
			found = r
		}
	}
	if found == nil {
		return Room{}, ErrRoomNotFound
	}
	return clone(found), nil
}

func (s *MemoryStore) removeLocked(userID string) {
	for _, r := range s.rooms {
		r.MemberIDs = slices.DeleteFunc(r.MemberIDs, func(id string) bool { return id == userID })
	}
}

func clone(r *Room) Room {
	c := *r
	c.MemberIDs = slices.Clone(r.MemberIDs)
	if c.MemberIDs == nil {
		c.MemberIDs = []string{}
	}
	return c
}
