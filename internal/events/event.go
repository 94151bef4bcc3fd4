// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package events implements the event bus that plugins and the server use
// to communicate.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SourceSystem marks events raised by the server itself rather than a
// plugin.
const SourceSystem = "system"

// Predefined event types.
const (
	// Server events.
	ServerStart    = "server_start"
	ServerShutdown = "server_shutdown"

	// User connection events.
	UserConnect    = "user_connect"
	UserDisconnect = "user_disconnect"

	// Room state events.
	RoomStateChange      = "room_state_change"
	RoomCreate           = "room_create"
	RoomDisband          = "room_disband"
	UserJoinRoom         = "user_join_room"
	UserLeaveRoom        = "user_leave_room"
	RoomStartPreparation = "room_start_preparation"
	RoomEndPreparation   = "room_end_preparation"
	GameStart            = "game_start"
	GameEnd              = "game_end"
	RoomLock             = "room_lock"
	RoomUnlock           = "room_unlock"
	RoomSwitchNormalMode = "room_switch_normal_mode"
	RoomSwitchCycleMode  = "room_switch_cycle_mode"
	UserGiveUpGame       = "user_give_up_game"
	RoomPrepareGame      = "room_prepare_game"
	ChartSelect          = "chart_select"

	// Command and message events.
	CommandInput = "command_input"
	MessageSend  = "message_send"

	// Plugin events.
	PluginLoad      = "plugin_load"
	PluginUnload    = "plugin_unload"
	PluginError     = "plugin_error"
	PluginHotReload = "plugin_hot_reload"
	ConfigReload    = "config_reload"
)

// Event is a single occurrence on the bus.
type Event struct {
	ID        ulid.ULID      `json:"id"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// New creates an event from the given source.
func New(eventType string, data map[string]any, source string) Event {
	return Event{
		ID:        ulid.Make(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// NewSystem creates an event sourced by the server.
func NewSystem(eventType string, data map[string]any) Event {
	return New(eventType, data, SourceSystem)
}

// NewPlugin creates an event sourced by the named plugin.
func NewPlugin(eventType string, data map[string]any, pluginName string) Event {
	return New(eventType, data, pluginName)
}
