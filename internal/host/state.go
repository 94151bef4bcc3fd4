// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package host exposes the server-side API surface plugins interact
// with: logging, events, commands, and the host-owned state store of
// users, rooms, and bans.
package host

import (
	"maps"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// RoomState is a room's gameplay phase.
type RoomState int

const (
	RoomSelectingChart RoomState = iota
	RoomWaitingForReady
	RoomPlaying
)

func (s RoomState) String() string {
	switch s {
	case RoomWaitingForReady:
		return "WAITING_FOR_READY"
	case RoomPlaying:
		return "PLAYING"
	default:
		return "SELECTING_CHART"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User is one online user.
type User struct {
	ID        uint32         `json:"id"`
	Name      string         `json:"name"`
	Language  string         `json:"language"`
	Playtime  uint64         `json:"playtime"`
	SessionID ulid.ULID      `json:"session_id"`
	RoomID    *uint32        `json:"room_id,omitempty"`
	IsPlaying bool           `json:"is_playing"`
	Custom    map[string]any `json:"custom_data,omitempty"`
}

func (u User) clone() User {
	out := u
	if u.RoomID != nil {
		id := *u.RoomID
		out.RoomID = &id
	}
	if u.Custom != nil {
		out.Custom = maps.Clone(u.Custom)
	}
	return out
}

// Room is one active multiplayer room.
type Room struct {
	ID             uint32         `json:"id"`
	Name           string         `json:"name"`
	HostID         uint32         `json:"host_id"`
	UserIDs        []uint32       `json:"user_ids"`
	MaxUsers       uint32         `json:"max_users"`
	Locked         bool           `json:"locked"`
	Cycle          bool           `json:"cycle"`
	ChartID        *uint32        `json:"chart_id,omitempty"`
	State          RoomState      `json:"state"`
	PlayingUserIDs []uint32       `json:"playing_user_ids,omitempty"`
	Custom         map[string]any `json:"custom_data,omitempty"`
}

// HasSpace reports whether the room accepts new joins.
func (r Room) HasSpace() bool {
	return !r.Locked && uint32(len(r.UserIDs)) < r.MaxUsers
}

func (r Room) clone() Room {
	out := r
	out.UserIDs = append([]uint32(nil), r.UserIDs...)
	out.PlayingUserIDs = append([]uint32(nil), r.PlayingUserIDs...)
	if r.ChartID != nil {
		id := *r.ChartID
		out.ChartID = &id
	}
	if r.Custom != nil {
		out.Custom = maps.Clone(r.Custom)
	}
	return out
}

// State is the host-owned store of online users, rooms, and bans.
// Snapshots returned from accessors are copies; mutating them does not
// touch the store.
type State struct {
	mu         sync.RWMutex
	users      map[uint32]User
	rooms      map[uint32]Room
	nextRoomID uint32

	bannedUsers map[uint32]struct{}
	bannedIPs   map[string]struct{}
	roomBans    map[uint32]map[uint32]struct{}
	roomIPBans  map[uint32]map[string]struct{}
}

// NewState creates an empty server state.
func NewState() *State {
	return &State{
		users:       make(map[uint32]User),
		rooms:       make(map[uint32]Room),
		nextRoomID:  1,
		bannedUsers: make(map[uint32]struct{}),
		bannedIPs:   make(map[string]struct{}),
		roomBans:    make(map[uint32]map[uint32]struct{}),
		roomIPBans:  make(map[uint32]map[string]struct{}),
	}
}

// AddUser inserts or replaces an online user.
func (s *State) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.clone()
}

// RemoveUser drops a user from the online set.
func (s *State) RemoveUser(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// User returns a copy of an online user.
func (s *State) User(id uint32) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return u.clone(), true
}

// Users returns all online users, sorted by id.
func (s *State) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnlineCount returns the number of online users.
func (s *State) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// AddRoom inserts a room, assigning the next free id when the id is zero.
// Returns the room id.
func (s *State) AddRoom(r Room) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextRoomID
	}
	if r.ID >= s.nextRoomID {
		s.nextRoomID = r.ID + 1
	}
	s.rooms[r.ID] = r.clone()
	return r.ID
}

// RemoveRoom deletes a room and its room-level bans.
func (s *State) RemoveRoom(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	delete(s.roomBans, id)
	delete(s.roomIPBans, id)
}

// Room returns a copy of a room.
func (s *State) Room(id uint32) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	return r.clone(), true
}

// Rooms returns all rooms, sorted by id.
func (s *State) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateRoom applies fn to a room under the state lock. Returns false
// when the room does not exist.
func (s *State) UpdateRoom(id uint32, fn func(*Room)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	fn(&r)
	s.rooms[id] = r
	return true
}

// UpdateUser applies fn to a user under the state lock. Returns false
// when the user is not online.
func (s *State) UpdateUser(id uint32, fn func(*User)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false
	}
	fn(&u)
	s.users[id] = u
	return true
}

// BanUser adds a user id to the global ban set.
func (s *State) BanUser(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bannedUsers[id] = struct{}{}
}

// UnbanUser removes a user id from the global ban set.
func (s *State) UnbanUser(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bannedUsers, id)
}

// IsUserBanned reports whether a user id is globally banned.
func (s *State) IsUserBanned(id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bannedUsers[id]
	return ok
}

// BannedUsers returns the banned user ids, sorted.
func (s *State) BannedUsers() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint32, 0, len(s.bannedUsers))
	for id := range s.bannedUsers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BanIP adds an address to the global IP ban set.
func (s *State) BanIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bannedIPs[ip] = struct{}{}
}

// UnbanIP removes an address from the global IP ban set.
func (s *State) UnbanIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bannedIPs, ip)
}

// IsIPBanned reports whether an address is globally banned.
func (s *State) IsIPBanned(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bannedIPs[ip]
	return ok
}

// BannedIPs returns the banned addresses, sorted.
func (s *State) BannedIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bannedIPs))
	for ip := range s.bannedIPs {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

// BanUserFromRoom bans a user id from one room.
func (s *State) BanUserFromRoom(userID, roomID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bans, ok := s.roomBans[roomID]
	if !ok {
		bans = make(map[uint32]struct{})
		s.roomBans[roomID] = bans
	}
	bans[userID] = struct{}{}
}

// UnbanUserFromRoom lifts a per-room user ban. Empty ban sets are pruned.
func (s *State) UnbanUserFromRoom(userID, roomID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bans, ok := s.roomBans[roomID]
	if !ok {
		return
	}
	delete(bans, userID)
	if len(bans) == 0 {
		delete(s.roomBans, roomID)
	}
}

// IsUserBannedFromRoom reports whether a user id is banned from a room.
func (s *State) IsUserBannedFromRoom(userID, roomID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bans, ok := s.roomBans[roomID]
	if !ok {
		return false
	}
	_, banned := bans[userID]
	return banned
}

// BanIPFromRoom bans an address from one room.
func (s *State) BanIPFromRoom(ip string, roomID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bans, ok := s.roomIPBans[roomID]
	if !ok {
		bans = make(map[string]struct{})
		s.roomIPBans[roomID] = bans
	}
	bans[ip] = struct{}{}
}

// UnbanIPFromRoom lifts a per-room IP ban. Empty ban sets are pruned.
func (s *State) UnbanIPFromRoom(ip string, roomID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bans, ok := s.roomIPBans[roomID]
	if !ok {
		return
	}
	delete(bans, ip)
	if len(bans) == 0 {
		delete(s.roomIPBans, roomID)
	}
}

// IsIPBannedFromRoom reports whether an address is banned from a room.
func (s *State) IsIPBannedFromRoom(ip string, roomID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bans, ok := s.roomIPBans[roomID]
	if !ok {
		return false
	}
	_, banned := bans[ip]
	return banned
}
