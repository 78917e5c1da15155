// Package room implements the Room Directory component.
//
// A room pairs devices under a short, case-insensitive key. Each user belongs
// to at most one room; joining a room leaves any previous one. Rooms are
// created on demand per creator and reused while they exist.
//
// The abandonment sweep refreshes the activity timestamp of every occupied
// room and then deletes empty rooms that have been inactive for longer than
// the abandonment threshold.
package room
