package room

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Errors
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrKeySpaceExhausted = errors.New("no unused room key found")
	ErrKeyTaken          = errors.New("room key already in use")
)

// Room is a set of users that relay payloads to each other.
type Room struct {
	ID           int64     `json:"id"`
	Key          string    `json:"key"`
	CreatorID    string    `json:"creatorId"`
	MemberIDs    []string  `json:"memberIds"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// HasMember reports whether userID is in the room.
func (r Room) HasMember(userID string) bool {
	return slices.Contains(r.MemberIDs, userID)
}

// OtherMembers returns every member except userID.
func (r Room) OtherMembers(userID string) []string {
	others := make([]string, 0, len(r.MemberIDs))
	for _, id := range r.MemberIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// Store persists rooms.
type Store interface {
	// Insert creates a room. Returns ErrKeyTaken if key is already used.
	Insert(ctx context.Context, key, creatorID string, now time.Time) (Room, error)

	// ByID, ByKey, ByCreator and ByMember return ErrRoomNotFound when no room matches.
	ByID(ctx context.Context, id int64) (Room, error)
	ByKey(ctx context.Context, key string) (Room, error)
	ByCreator(ctx context.Context, creatorID string) (Room, error)
	ByMember(ctx context.Context, userID string) (Room, error)

	// MoveMember removes userID from every room and adds it to roomID in one
	// atomic step. Returns ErrRoomNotFound, leaving memberships untouched, if
	// roomID does not exist.
	MoveMember(ctx context.Context, roomID int64, userID string, now time.Time) error

	// RemoveMember removes userID from every room.
	RemoveMember(ctx context.Context, userID string) error

	// TouchOccupied sets LastActiveAt to now for every room with members.
	TouchOccupied(ctx context.Context, now time.Time) (int64, error)

	// DeleteAbandoned deletes empty rooms last active before cutoff.
	DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the number of rooms.
	Count(ctx context.Context) (int, error)
}

// Config configures a Directory.
type Config struct {
	KeyLength    int           // Characters per room key
	KeyAttempts  int           // Max key generations per creation before giving up
	AbandonAfter time.Duration // Empty rooms inactive for longer are deleted
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyLength:    6,
		KeyAttempts:  10,
		AbandonAfter: time.Hour,
	}
}
