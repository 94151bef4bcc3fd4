// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package host_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/host"
	"github.com/FireflyF09/phira-mp/internal/plugin"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

type fakeManager struct {
	mu      sync.Mutex
	plugins []*plugin.Plugin
	reloads []string
}

func (f *fakeManager) Get(name string) (*plugin.Plugin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

func (f *fakeManager) All() []*plugin.Plugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*plugin.Plugin(nil), f.plugins...)
}

func (f *fakeManager) ReloadPlugin(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, name)
	return nil
}

func newAPI() (*host.API, *events.Bus, *command.Registry) {
	bus := events.NewBus(nil)
	registry := command.NewRegistry(nil)
	return host.NewAPI(bus, registry, host.NewState(), nil), bus, registry
}

func TestStateUsers(t *testing.T) {
	s := host.NewState()

	s.AddUser(host.User{ID: 2, Name: "nia"})
	s.AddUser(host.User{ID: 1, Name: "kal"})
	assert.Equal(t, 2, s.OnlineCount())

	u, ok := s.User(1)
	require.True(t, ok)
	assert.Equal(t, "kal", u.Name)

	users := s.Users()
	require.Len(t, users, 2)
	assert.Equal(t, uint32(1), users[0].ID)

	// Returned snapshots are copies.
	users[0].Name = "changed"
	u, _ = s.User(1)
	assert.Equal(t, "kal", u.Name)

	s.RemoveUser(1)
	_, ok = s.User(1)
	assert.False(t, ok)
}

func TestStateRoomIDs(t *testing.T) {
	s := host.NewState()

	first := s.AddRoom(host.Room{MaxUsers: 4})
	second := s.AddRoom(host.Room{MaxUsers: 4})
	assert.Equal(t, uint32(1), first)
	assert.Equal(t, uint32(2), second)

	// Explicit ids advance the allocator.
	s.AddRoom(host.Room{ID: 10, MaxUsers: 4})
	assert.Equal(t, uint32(11), s.AddRoom(host.Room{MaxUsers: 4}))
}

func TestStateBans(t *testing.T) {
	s := host.NewState()

	s.BanUser(7)
	s.BanIP("10.0.0.1")
	assert.True(t, s.IsUserBanned(7))
	assert.True(t, s.IsIPBanned("10.0.0.1"))
	assert.Equal(t, []uint32{7}, s.BannedUsers())
	assert.Equal(t, []string{"10.0.0.1"}, s.BannedIPs())

	s.UnbanUser(7)
	s.UnbanIP("10.0.0.1")
	assert.False(t, s.IsUserBanned(7))
	assert.False(t, s.IsIPBanned("10.0.0.1"))

	s.BanUserFromRoom(7, 1)
	assert.True(t, s.IsUserBannedFromRoom(7, 1))
	assert.False(t, s.IsUserBannedFromRoom(7, 2))
	s.UnbanUserFromRoom(7, 1)
	assert.False(t, s.IsUserBannedFromRoom(7, 1))
}

func TestRoomMembership(t *testing.T) {
	api, _, _ := newAPI()
	state := api.State()

	state.AddUser(host.User{ID: 1, Name: "kal"})
	state.AddUser(host.User{ID: 2, Name: "nia"})
	roomID := api.CreateRoom("duo", 1, 2)

	require.NoError(t, api.AddUserToRoom(2, roomID))
	room, err := api.RoomInfo(roomID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, room.UserIDs)

	u, _ := state.User(2)
	require.NotNil(t, u.RoomID)
	assert.Equal(t, roomID, *u.RoomID)

	// The room is now full.
	state.AddUser(host.User{ID: 3})
	err = api.AddUserToRoom(3, roomID)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, host.CodeAPI))

	require.NoError(t, api.KickUserFromRoom(2, roomID))
	room, _ = api.RoomInfo(roomID)
	assert.Equal(t, []uint32{1}, room.UserIDs)
	u, _ = state.User(2)
	assert.Nil(t, u.RoomID)
}

func TestBannedUserCannotJoin(t *testing.T) {
	api, _, _ := newAPI()
	state := api.State()

	state.AddUser(host.User{ID: 1})
	state.AddUser(host.User{ID: 2})
	roomID := api.CreateRoom("", 1, 8)

	state.BanUserFromRoom(2, roomID)
	err := api.AddUserToRoom(2, roomID)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, host.CodeAPI))
}

func TestRoomPhases(t *testing.T) {
	api, _, _ := newAPI()
	api.State().AddUser(host.User{ID: 1})
	roomID := api.CreateRoom("", 1, 8)

	require.NoError(t, api.StartRoomPreparation(roomID))
	room, _ := api.RoomInfo(roomID)
	assert.Equal(t, host.RoomWaitingForReady, room.State)

	require.NoError(t, api.ForceStartRoomGame(roomID))
	room, _ = api.RoomInfo(roomID)
	assert.Equal(t, host.RoomPlaying, room.State)

	require.NoError(t, api.EndRoomPreparation(roomID))
	room, _ = api.RoomInfo(roomID)
	assert.Equal(t, host.RoomSelectingChart, room.State)

	require.NoError(t, api.SetRoomLock(roomID, true))
	require.NoError(t, api.SelectRoomChart(roomID, 42))
	room, _ = api.RoomInfo(roomID)
	assert.True(t, room.Locked)
	require.NotNil(t, room.ChartID)
	assert.Equal(t, uint32(42), *room.ChartID)

	// Operations on unknown rooms fail with an API error.
	err := api.SetRoomLock(999, true)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, host.CodeAPI))
}

func TestKickUserEmitsDisconnect(t *testing.T) {
	api, bus, _ := newAPI()
	api.State().AddUser(host.User{ID: 5, Name: "kal"})

	var got []events.Event
	bus.Subscribe(events.UserDisconnect, func(e events.Event) error {
		got = append(got, e)
		return nil
	}, "test")

	require.NoError(t, api.KickUser(5))
	assert.Equal(t, 0, api.OnlineUserCount())
	require.Len(t, got, 1)
	assert.Equal(t, uint32(5), got[0].Data["user"])

	require.Error(t, api.KickUser(5))
}

func TestPlaytimeLeaderboard(t *testing.T) {
	api, _, _ := newAPI()
	state := api.State()
	state.AddUser(host.User{ID: 1, Name: "a", Playtime: 100})
	state.AddUser(host.User{ID: 2, Name: "b", Playtime: 300})
	state.AddUser(host.User{ID: 3, Name: "c", Playtime: 200})

	top := api.PlaytimeLeaderboard(2)
	require.Len(t, top, 2)
	assert.Equal(t, uint32(2), top[0].ID)
	assert.Equal(t, uint32(3), top[1].ID)
}

func TestManagerPassThrough(t *testing.T) {
	api, _, _ := newAPI()

	// Without a manager attached every pass-through fails gracefully.
	_, err := api.PluginList()
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, host.CodeAPI))
	err = api.ReloadPlugin(context.Background(), "chat")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, host.CodeAPI))

	mgr := &fakeManager{plugins: []*plugin.Plugin{
		plugin.NewPlugin(&plugin.Metadata{Name: "chat", Version: "1.0.0", Author: "x", ABIVersion: "1.0.0"}, plugin.NewConfig(), "chat.wasm"),
	}}
	api.SetManager(mgr)

	list, err := api.PluginList()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "chat", list[0].Name)
	assert.Equal(t, "loaded", list[0].State)

	require.NoError(t, api.ReloadAllPlugins(context.Background()))
	assert.Equal(t, []string{"chat"}, mgr.reloads)

	// Detaching restores the graceful failure.
	api.SetManager(nil)
	_, err = api.PluginList()
	require.Error(t, err)
}

func TestServerCommands(t *testing.T) {
	api, _, registry := newAPI()
	require.NoError(t, host.NewServerCommands(api).RegisterAll(registry))

	api.State().AddUser(host.User{ID: 1, Name: "kal", Playtime: 50})
	ctx := context.Background()

	out, err := registry.Execute(ctx, "username 1")
	require.NoError(t, err)
	assert.Equal(t, "kal", out)

	out, err = registry.Execute(ctx, "createroom 1 4")
	require.NoError(t, err)
	assert.Equal(t, "room 1 created", out)

	out, err = registry.Execute(ctx, "onlinecount")
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	out, err = registry.Execute(ctx, "banid 1 being rude")
	require.NoError(t, err)
	assert.Contains(t, out, "being rude")
	assert.True(t, api.State().IsUserBanned(1))

	out, err = registry.Execute(ctx, "checkbanid 1")
	require.NoError(t, err)
	assert.Equal(t, "true", out)

	// Bad arguments come back as command errors.
	_, err = registry.Execute(ctx, "kick notanumber")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, command.CodeCommand))

	_, err = registry.Execute(ctx, "setlock 1")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, command.CodeCommand))

	// All built-ins are owned by the server.
	for _, cmd := range registry.All() {
		assert.Equal(t, host.ServerOwner, cmd.Plugin, cmd.Name)
	}
}

func TestHelpListsCommands(t *testing.T) {
	api, _, registry := newAPI()
	require.NoError(t, host.NewServerCommands(api).RegisterAll(registry))

	out, err := registry.Execute(context.Background(), "help")
	require.NoError(t, err)
	assert.Contains(t, out, "banid")
	assert.Contains(t, out, "createroom")
	assert.Contains(t, out, "reloadall")
}
