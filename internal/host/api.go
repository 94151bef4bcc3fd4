// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package host

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/plugin"
)

// CodeAPI is the oops error code for host API failures.
const CodeAPI = "API"

// ManagerRef is the non-owning view of the plugin manager the host API
// depends on. The manager is attached after construction and may be
// detached during shutdown, so every call through it must tolerate
// absence.
type ManagerRef interface {
	Get(name string) (*plugin.Plugin, bool)
	All() []*plugin.Plugin
	ReloadPlugin(ctx context.Context, name string) error
}

// API is the surface plugins call into: logging, events, commands, and
// the host state store.
type API struct {
	bus      *events.Bus
	registry *command.Registry
	state    *State
	logger   *slog.Logger

	mu      sync.RWMutex
	manager ManagerRef
}

// NewAPI creates the host API. Attach a manager with SetManager before
// using the plugin pass-through calls.
func NewAPI(bus *events.Bus, registry *command.Registry, state *State, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		bus:      bus,
		registry: registry,
		state:    state,
		logger:   logger,
	}
}

// SetManager attaches or detaches the plugin manager back-reference.
func (a *API) SetManager(m ManagerRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manager = m
}

func (a *API) managerRef() (ManagerRef, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.manager == nil {
		return nil, oops.Code(CodeAPI).Errorf("plugin manager is not available")
	}
	return a.manager, nil
}

// State returns the host state store.
func (a *API) State() *State { return a.state }

// LogDebug logs a plugin-originated debug message.
func (a *API) LogDebug(pluginName, msg string) {
	a.logger.Debug(msg, "plugin", pluginName)
}

// LogInfo logs a plugin-originated info message.
func (a *API) LogInfo(pluginName, msg string) {
	a.logger.Info(msg, "plugin", pluginName)
}

// LogWarn logs a plugin-originated warning.
func (a *API) LogWarn(pluginName, msg string) {
	a.logger.Warn(msg, "plugin", pluginName)
}

// LogError logs a plugin-originated error message.
func (a *API) LogError(pluginName, msg string) {
	a.logger.Error(msg, "plugin", pluginName)
}

// SubscribeEvent subscribes a plugin handler to an event type.
func (a *API) SubscribeEvent(eventType string, handler events.Handler, pluginName string) {
	a.bus.Subscribe(eventType, handler, pluginName)
}

// UnsubscribeEvent removes a plugin's handler for an event type.
func (a *API) UnsubscribeEvent(eventType, pluginName string) {
	a.bus.Unsubscribe(eventType, pluginName)
}

// EmitEvent publishes a plugin-sourced event.
func (a *API) EmitEvent(eventType string, data map[string]any, pluginName string) {
	a.bus.Emit(events.NewPlugin(eventType, data, pluginName))
}

// RegisterCommand registers a plugin command.
func (a *API) RegisterCommand(name, description string, handler command.Handler, pluginName string) error {
	return a.registry.Register(&command.Command{
		Name:        name,
		Description: description,
		Handler:     handler,
		Plugin:      pluginName,
	})
}

// UnregisterCommand removes a command by name or alias.
func (a *API) UnregisterCommand(name string) error {
	return a.registry.Unregister(name)
}

// KickUser removes a user from the server and announces the disconnect.
func (a *API) KickUser(id uint32) error {
	u, ok := a.state.User(id)
	if !ok {
		return oops.Code(CodeAPI).With("user", id).Errorf("user %d not found", id)
	}
	a.state.RemoveUser(id)
	a.bus.Emit(events.NewSystem(events.UserDisconnect, map[string]any{
		"user":   u.ID,
		"name":   u.Name,
		"reason": "kicked",
	}))
	a.logger.Info("user kicked", "user", id)
	return nil
}

// BanUser bans a user id globally.
func (a *API) BanUser(id uint32, reason string) {
	a.state.BanUser(id)
	a.logger.Info("user banned", "user", id, "reason", reason)
}

// UnbanUser lifts a global user ban.
func (a *API) UnbanUser(id uint32) {
	a.state.UnbanUser(id)
	a.logger.Info("user unbanned", "user", id)
}

// BanIP bans an address globally.
func (a *API) BanIP(ip, reason string) {
	a.state.BanIP(ip)
	a.logger.Info("ip banned", "ip", ip, "reason", reason)
}

// UnbanIP lifts a global IP ban.
func (a *API) UnbanIP(ip string) {
	a.state.UnbanIP(ip)
	a.logger.Info("ip unbanned", "ip", ip)
}

// UserInfo returns a copy of an online user.
func (a *API) UserInfo(id uint32) (User, error) {
	u, ok := a.state.User(id)
	if !ok {
		return User{}, oops.Code(CodeAPI).With("user", id).Errorf("user %d not found", id)
	}
	return u, nil
}

// Username returns an online user's name.
func (a *API) Username(id uint32) (string, error) {
	u, err := a.UserInfo(id)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// UserLanguage returns an online user's language.
func (a *API) UserLanguage(id uint32) (string, error) {
	u, err := a.UserInfo(id)
	if err != nil {
		return "", err
	}
	return u.Language, nil
}

// UserPlaytime returns an online user's playtime in seconds.
func (a *API) UserPlaytime(id uint32) (uint64, error) {
	u, err := a.UserInfo(id)
	if err != nil {
		return 0, err
	}
	return u.Playtime, nil
}

// LeaderboardEntry is one row of the playtime leaderboard.
type LeaderboardEntry struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Playtime uint64 `json:"playtime"`
}

// PlaytimeLeaderboard returns up to limit online users ordered by
// playtime, highest first.
func (a *API) PlaytimeLeaderboard(limit int) []LeaderboardEntry {
	users := a.state.Users()
	sort.Slice(users, func(i, j int) bool { return users[i].Playtime > users[j].Playtime })

	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	out := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		out[i] = LeaderboardEntry{ID: u.ID, Name: u.Name, Playtime: u.Playtime}
	}
	return out
}

// CreateRoom allocates a room with the given capacity hosted by hostID
// and announces it on the bus.
func (a *API) CreateRoom(name string, hostID, maxUsers uint32) uint32 {
	id := a.state.AddRoom(Room{
		Name:     name,
		HostID:   hostID,
		MaxUsers: maxUsers,
		UserIDs:  []uint32{hostID},
	})
	a.bus.Emit(events.NewSystem(events.RoomCreate, map[string]any{"room": id, "host": hostID}))
	a.logger.Info("room created", "room", id, "host", hostID, "max_users", maxUsers)
	return id
}

// DisbandRoom deletes a room and announces it.
func (a *API) DisbandRoom(id uint32) error {
	if _, ok := a.state.Room(id); !ok {
		return oops.Code(CodeAPI).With("room", id).Errorf("room %d not found", id)
	}
	a.state.RemoveRoom(id)
	a.bus.Emit(events.NewSystem(events.RoomDisband, map[string]any{"room": id}))
	a.logger.Info("room disbanded", "room", id)
	return nil
}

// AddUserToRoom joins an online user into a room. Banned users and full
// or locked rooms are rejected.
func (a *API) AddUserToRoom(userID, roomID uint32) error {
	if _, ok := a.state.User(userID); !ok {
		return oops.Code(CodeAPI).With("user", userID).Errorf("user %d not found", userID)
	}
	if a.state.IsUserBanned(userID) || a.state.IsUserBannedFromRoom(userID, roomID) {
		return oops.Code(CodeAPI).With("user", userID).With("room", roomID).
			Errorf("user %d is banned from room %d", userID, roomID)
	}

	var full bool
	ok := a.state.UpdateRoom(roomID, func(r *Room) {
		if !r.HasSpace() {
			full = true
			return
		}
		for _, id := range r.UserIDs {
			if id == userID {
				return
			}
		}
		r.UserIDs = append(r.UserIDs, userID)
	})
	if !ok {
		return oops.Code(CodeAPI).With("room", roomID).Errorf("room %d not found", roomID)
	}
	if full {
		return oops.Code(CodeAPI).With("room", roomID).Errorf("room %d is locked or full", roomID)
	}

	a.state.UpdateUser(userID, func(u *User) { u.RoomID = &roomID })
	a.bus.Emit(events.NewSystem(events.UserJoinRoom, map[string]any{"user": userID, "room": roomID}))
	return nil
}

// KickUserFromRoom removes a user from a room.
func (a *API) KickUserFromRoom(userID, roomID uint32) error {
	ok := a.state.UpdateRoom(roomID, func(r *Room) {
		for i, id := range r.UserIDs {
			if id == userID {
				r.UserIDs = append(r.UserIDs[:i], r.UserIDs[i+1:]...)
				break
			}
		}
	})
	if !ok {
		return oops.Code(CodeAPI).With("room", roomID).Errorf("room %d not found", roomID)
	}

	a.state.UpdateUser(userID, func(u *User) { u.RoomID = nil })
	a.bus.Emit(events.NewSystem(events.UserLeaveRoom, map[string]any{"user": userID, "room": roomID}))
	return nil
}

// RoomInfo returns a copy of a room.
func (a *API) RoomInfo(id uint32) (Room, error) {
	r, ok := a.state.Room(id)
	if !ok {
		return Room{}, oops.Code(CodeAPI).With("room", id).Errorf("room %d not found", id)
	}
	return r, nil
}

// SetRoomMaxUsers changes a room's capacity.
func (a *API) SetRoomMaxUsers(id, maxUsers uint32) error {
	return a.updateRoom(id, "", func(r *Room) { r.MaxUsers = maxUsers })
}

// SetRoomLock locks or unlocks a room.
func (a *API) SetRoomLock(id uint32, locked bool) error {
	eventType := events.RoomUnlock
	if locked {
		eventType = events.RoomLock
	}
	return a.updateRoom(id, eventType, func(r *Room) { r.Locked = locked })
}

// SetRoomCycle switches a room between cycle and normal mode.
func (a *API) SetRoomCycle(id uint32, cycle bool) error {
	eventType := events.RoomSwitchNormalMode
	if cycle {
		eventType = events.RoomSwitchCycleMode
	}
	return a.updateRoom(id, eventType, func(r *Room) { r.Cycle = cycle })
}

// StartRoomPreparation moves a room into the waiting-for-ready phase.
func (a *API) StartRoomPreparation(id uint32) error {
	return a.updateRoom(id, events.RoomStartPreparation, func(r *Room) { r.State = RoomWaitingForReady })
}

// EndRoomPreparation moves a room back to chart selection.
func (a *API) EndRoomPreparation(id uint32) error {
	return a.updateRoom(id, events.RoomEndPreparation, func(r *Room) { r.State = RoomSelectingChart })
}

// ForceStartRoomGame moves a room straight into the playing phase.
func (a *API) ForceStartRoomGame(id uint32) error {
	return a.updateRoom(id, events.GameStart, func(r *Room) { r.State = RoomPlaying })
}

// SelectRoomChart sets a room's selected chart.
func (a *API) SelectRoomChart(id, chartID uint32) error {
	return a.updateRoom(id, events.ChartSelect, func(r *Room) { r.ChartID = &chartID })
}

func (a *API) updateRoom(id uint32, eventType string, fn func(*Room)) error {
	if !a.state.UpdateRoom(id, fn) {
		return oops.Code(CodeAPI).With("room", id).Errorf("room %d not found", id)
	}
	if eventType != "" {
		a.bus.Emit(events.NewSystem(eventType, map[string]any{"room": id}))
	}
	return nil
}

// SendMessageToUser delivers a message to one user via the bus.
func (a *API) SendMessageToUser(userID uint32, message string) error {
	if _, ok := a.state.User(userID); !ok {
		return oops.Code(CodeAPI).With("user", userID).Errorf("user %d not found", userID)
	}
	a.bus.Emit(events.NewSystem(events.MessageSend, map[string]any{
		"scope":   "user",
		"user":    userID,
		"message": message,
	}))
	return nil
}

// BroadcastToAll sends a message to every online user.
func (a *API) BroadcastToAll(message string) {
	a.bus.Emit(events.NewSystem(events.MessageSend, map[string]any{
		"scope":   "all",
		"message": message,
	}))
}

// BroadcastToRoom sends a message to one room.
func (a *API) BroadcastToRoom(roomID uint32, message string) error {
	if _, ok := a.state.Room(roomID); !ok {
		return oops.Code(CodeAPI).With("room", roomID).Errorf("room %d not found", roomID)
	}
	a.bus.Emit(events.NewSystem(events.MessageSend, map[string]any{
		"scope":   "room",
		"room":    roomID,
		"message": message,
	}))
	return nil
}

// BroadcastToAllRooms sends a message to every room.
func (a *API) BroadcastToAllRooms(message string) {
	a.bus.Emit(events.NewSystem(events.MessageSend, map[string]any{
		"scope":   "rooms",
		"message": message,
	}))
}

// PluginSummary is one row of the plugin list.
type PluginSummary struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author"`
	State   string `json:"state"`
}

// PluginList returns a summary of every loaded plugin.
func (a *API) PluginList() ([]PluginSummary, error) {
	mgr, err := a.managerRef()
	if err != nil {
		return nil, err
	}

	plugins := mgr.All()
	out := make([]PluginSummary, 0, len(plugins))
	for _, p := range plugins {
		summary := PluginSummary{
			Name:    p.Metadata.Name,
			Version: p.Metadata.Version,
			Author:  p.Metadata.Author,
			State:   p.State().String(),
		}
		if msg := p.StateMessage(); msg != "" {
			summary.State = msg
		}
		out = append(out, summary)
	}
	return out, nil
}

// ReloadPlugin reloads one plugin through the manager.
func (a *API) ReloadPlugin(ctx context.Context, name string) error {
	mgr, err := a.managerRef()
	if err != nil {
		return err
	}
	return mgr.ReloadPlugin(ctx, name)
}

// ReloadAllPlugins reloads every loaded plugin, stopping at the first
// failure.
func (a *API) ReloadAllPlugins(ctx context.Context) error {
	mgr, err := a.managerRef()
	if err != nil {
		return err
	}
	for _, p := range mgr.All() {
		if err := mgr.ReloadPlugin(ctx, p.Name()); err != nil {
			return err
		}
	}
	return nil
}

// PluginConfigValue reads one key from a plugin's configuration.
func (a *API) PluginConfigValue(pluginName, key string) (any, error) {
	mgr, err := a.managerRef()
	if err != nil {
		return nil, err
	}
	p, ok := mgr.Get(pluginName)
	if !ok {
		return nil, oops.Code(CodeAPI).With("plugin", pluginName).Errorf("plugin %q not found", pluginName)
	}
	return p.Config.Get(key), nil
}

// SetPluginConfigValue writes one key into a plugin's configuration.
func (a *API) SetPluginConfigValue(pluginName, key string, value any) error {
	mgr, err := a.managerRef()
	if err != nil {
		return err
	}
	p, ok := mgr.Get(pluginName)
	if !ok {
		return oops.Code(CodeAPI).With("plugin", pluginName).Errorf("plugin %q not found", pluginName)
	}
	p.Config.Set(key, value)
	return nil
}

// SavePluginConfig persists a plugin's configuration to disk.
func (a *API) SavePluginConfig(pluginName string) error {
	mgr, err := a.managerRef()
	if err != nil {
		return err
	}
	p, ok := mgr.Get(pluginName)
	if !ok {
		return oops.Code(CodeAPI).With("plugin", pluginName).Errorf("plugin %q not found", pluginName)
	}
	return p.Config.Save()
}

// OnlineUserCount returns the number of online users.
func (a *API) OnlineUserCount() int { return a.state.OnlineCount() }

// OnlineUserIDs returns the ids of online users, sorted.
func (a *API) OnlineUserIDs() []uint32 {
	users := a.state.Users()
	out := make([]uint32, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

// AvailableRoomCount returns the number of joinable rooms.
func (a *API) AvailableRoomCount() int {
	return len(a.AvailableRooms())
}

// AvailableRooms returns the rooms that accept new joins, sorted by id.
func (a *API) AvailableRooms() []Room {
	var out []Room
	for _, r := range a.state.Rooms() {
		if r.HasSpace() {
			out = append(out, r)
		}
	}
	return out
}
