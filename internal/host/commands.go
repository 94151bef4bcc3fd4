// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/FireflyF09/phira-mp/internal/command"
)

// ServerOwner is the reserved command owner for built-in server commands.
// Unloading a plugin never touches commands registered under it.
const ServerOwner = "server"

const helpText = `Available server commands:

User management:
  kick <user-id>                  - kick a user
  banid <user-id> <reason>        - ban a user by id
  unbanid <user-id>               - lift a user id ban
  banip <address> <reason>        - ban an address
  unbanip <address>               - lift an address ban
  userinfo <user-id>              - show user details
  username <user-id>              - show a user's name
  playtime <user-id>              - show a user's playtime
  playtop <count>                 - playtime leaderboard
  bannedids                       - list banned user ids
  bannedips                       - list banned addresses
  checkbanid <user-id>            - check a user id ban
  checkbanip <address>            - check an address ban

Room bans:
  banroomid <user-id> <room-id>   - ban a user from a room
  unbanroomid <user-id> <room-id> - lift a per-room user ban
  checkroomban <user-id> <room-id> - check a per-room ban

Room management:
  createroom <host-id> <max-users> - create a room
  disbandroom <room-id>           - disband a room
  joinroom <user-id> <room-id>    - add a user to a room
  kickroom <user-id> <room-id>    - remove a user from a room
  roominfo <room-id>              - show room details
  setmaxusers <room-id> <count>   - set room capacity
  setlock <room-id> <on|off>      - lock or unlock a room
  cyclemode <room-id>             - switch a room to cycle mode
  normalmode <room-id>            - switch a room to normal mode
  startprep <room-id>             - start room preparation
  endprep <room-id>               - end room preparation
  forcestart <room-id>            - force start a room's game
  selectchart <room-id> <chart-id> - select a room's chart

Messaging:
  sendmsg <user-id> <message>     - message one user
  broadcastall <message>          - message every user
  broadcastroom <room-id> <message> - message one room
  broadcastrooms <message>        - message every room

Server:
  plugins                         - list loaded plugins
  reload <plugin>                 - reload one plugin
  reloadall                       - reload every plugin
  onlinecount                     - online user count
  onlineusers                     - online user ids
  rooms                           - list rooms
  availablerooms                  - joinable room count`

// ServerCommands wires the built-in command set to the host API.
type ServerCommands struct {
	api *API
}

// NewServerCommands creates the built-in command set.
func NewServerCommands(api *API) *ServerCommands {
	return &ServerCommands{api: api}
}

// RegisterAll registers every built-in command under the server owner.
func (sc *ServerCommands) RegisterAll(registry *command.Registry) error {
	cmds := []*command.Command{
		{Name: "help", Description: "list available commands", Handler: sc.help},
		{Name: "kick", Description: "kick a user", Handler: sc.kick},
		{Name: "banid", Description: "ban a user by id", Handler: sc.banID},
		{Name: "unbanid", Description: "lift a user id ban", Handler: sc.unbanID},
		{Name: "banip", Description: "ban an address", Handler: sc.banIP},
		{Name: "unbanip", Description: "lift an address ban", Handler: sc.unbanIP},
		{Name: "userinfo", Description: "show user details", Handler: sc.userInfo},
		{Name: "username", Description: "show a user's name", Handler: sc.username},
		{Name: "playtime", Description: "show a user's playtime", Handler: sc.playtime},
		{Name: "playtop", Description: "playtime leaderboard", Handler: sc.playtop},
		{Name: "bannedids", Description: "list banned user ids", Handler: sc.bannedIDs},
		{Name: "bannedips", Description: "list banned addresses", Handler: sc.bannedIPs},
		{Name: "checkbanid", Description: "check a user id ban", Handler: sc.checkBanID},
		{Name: "checkbanip", Description: "check an address ban", Handler: sc.checkBanIP},
		{Name: "banroomid", Description: "ban a user from a room", Handler: sc.banRoomID},
		{Name: "unbanroomid", Description: "lift a per-room user ban", Handler: sc.unbanRoomID},
		{Name: "checkroomban", Description: "check a per-room ban", Handler: sc.checkRoomBan},
		{Name: "createroom", Description: "create a room", Handler: sc.createRoom},
		{Name: "disbandroom", Description: "disband a room", Handler: sc.disbandRoom},
		{Name: "joinroom", Description: "add a user to a room", Handler: sc.joinRoom},
		{Name: "kickroom", Description: "remove a user from a room", Handler: sc.kickRoom},
		{Name: "roominfo", Description: "show room details", Handler: sc.roomInfo},
		{Name: "setmaxusers", Description: "set room capacity", Handler: sc.setMaxUsers},
		{Name: "setlock", Description: "lock or unlock a room", Handler: sc.setLock},
		{Name: "cyclemode", Description: "switch a room to cycle mode", Handler: sc.cycleMode},
		{Name: "normalmode", Description: "switch a room to normal mode", Handler: sc.normalMode},
		{Name: "startprep", Description: "start room preparation", Handler: sc.startPrep},
		{Name: "endprep", Description: "end room preparation", Handler: sc.endPrep},
		{Name: "forcestart", Description: "force start a room's game", Handler: sc.forceStart},
		{Name: "selectchart", Description: "select a room's chart", Handler: sc.selectChart},
		{Name: "sendmsg", Description: "message one user", Handler: sc.sendMsg},
		{Name: "broadcastall", Description: "message every user", Handler: sc.broadcastAll},
		{Name: "broadcastroom", Description: "message one room", Handler: sc.broadcastRoom},
		{Name: "broadcastrooms", Description: "message every room", Handler: sc.broadcastRooms},
		{Name: "plugins", Description: "list loaded plugins", Handler: sc.plugins},
		{Name: "reload", Description: "reload one plugin", Handler: sc.reload},
		{Name: "reloadall", Description: "reload every plugin", Handler: sc.reloadAll},
		{Name: "onlinecount", Description: "online user count", Handler: sc.onlineCount},
		{Name: "onlineusers", Description: "online user ids", Handler: sc.onlineUsers},
		{Name: "rooms", Description: "list rooms", Handler: sc.rooms},
		{Name: "availablerooms", Description: "joinable room count", Handler: sc.availableRooms},
	}

	for _, cmd := range cmds {
		cmd.Plugin = ServerOwner
		if err := registry.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func usage(text string) error {
	return oops.Code(command.CodeCommand).Errorf("usage: %s", text)
}

func parseID(arg, what string) (uint32, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, oops.Code(command.CodeCommand).Errorf("invalid %s %q", what, arg)
	}
	return uint32(id), nil
}

func (sc *ServerCommands) help(_ context.Context, _ string, _ []string) (string, error) {
	return helpText, nil
}

func (sc *ServerCommands) kick(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("kick <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	if err := sc.api.KickUser(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("user %d kicked", id), nil
}

func (sc *ServerCommands) banID(_ context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 {
		return "", usage("banid <user-id> <reason>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	reason := strings.Join(args[1:], " ")
	sc.api.BanUser(id, reason)
	return fmt.Sprintf("user %d banned: %s", id, reason), nil
}

func (sc *ServerCommands) unbanID(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("unbanid <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	sc.api.UnbanUser(id)
	return fmt.Sprintf("user %d unbanned", id), nil
}

func (sc *ServerCommands) banIP(_ context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 {
		return "", usage("banip <address> <reason>")
	}
	sc.api.BanIP(args[0], strings.Join(args[1:], " "))
	return fmt.Sprintf("address %s banned", args[0]), nil
}

func (sc *ServerCommands) unbanIP(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("unbanip <address>")
	}
	sc.api.UnbanIP(args[0])
	return fmt.Sprintf("address %s unbanned", args[0]), nil
}

func (sc *ServerCommands) userInfo(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("userinfo <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	u, err := sc.api.UserInfo(id)
	if err != nil {
		return "", err
	}
	return marshal(u)
}

func (sc *ServerCommands) username(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("username <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	return sc.api.Username(id)
}

func (sc *ServerCommands) playtime(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("playtime <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	seconds, err := sc.api.UserPlaytime(id)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(seconds, 10), nil
}

func (sc *ServerCommands) playtop(_ context.Context, _ string, args []string) (string, error) {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", usage("playtop <count>")
		}
		limit = n
	}
	return marshal(sc.api.PlaytimeLeaderboard(limit))
}

func (sc *ServerCommands) bannedIDs(_ context.Context, _ string, _ []string) (string, error) {
	return marshal(sc.api.State().BannedUsers())
}

func (sc *ServerCommands) bannedIPs(_ context.Context, _ string, _ []string) (string, error) {
	return marshal(sc.api.State().BannedIPs())
}

func (sc *ServerCommands) checkBanID(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("checkbanid <user-id>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	return strconv.FormatBool(sc.api.State().IsUserBanned(id)), nil
}

func (sc *ServerCommands) checkBanIP(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("checkbanip <address>")
	}
	return strconv.FormatBool(sc.api.State().IsIPBanned(args[0])), nil
}

func (sc *ServerCommands) banRoomID(_ context.Context, _ string, args []string) (string, error) {
	userID, roomID, err := twoIDs(args, "banroomid <user-id> <room-id>")
	if err != nil {
		return "", err
	}
	sc.api.State().BanUserFromRoom(userID, roomID)
	return fmt.Sprintf("user %d banned from room %d", userID, roomID), nil
}

func (sc *ServerCommands) unbanRoomID(_ context.Context, _ string, args []string) (string, error) {
	userID, roomID, err := twoIDs(args, "unbanroomid <user-id> <room-id>")
	if err != nil {
		return "", err
	}
	sc.api.State().UnbanUserFromRoom(userID, roomID)
	return fmt.Sprintf("user %d unbanned from room %d", userID, roomID), nil
}

func (sc *ServerCommands) checkRoomBan(_ context.Context, _ string, args []string) (string, error) {
	userID, roomID, err := twoIDs(args, "checkroomban <user-id> <room-id>")
	if err != nil {
		return "", err
	}
	return strconv.FormatBool(sc.api.State().IsUserBannedFromRoom(userID, roomID)), nil
}

func (sc *ServerCommands) createRoom(_ context.Context, _ string, args []string) (string, error) {
	hostID, maxUsers, err := twoIDs(args, "createroom <host-id> <max-users>")
	if err != nil {
		return "", err
	}
	id := sc.api.CreateRoom("", hostID, maxUsers)
	return fmt.Sprintf("room %d created", id), nil
}

func (sc *ServerCommands) disbandRoom(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("disbandroom <room-id>")
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	if err := sc.api.DisbandRoom(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %d disbanded", id), nil
}

func (sc *ServerCommands) joinRoom(_ context.Context, _ string, args []string) (string, error) {
	userID, roomID, err := twoIDs(args, "joinroom <user-id> <room-id>")
	if err != nil {
		return "", err
	}
	if err := sc.api.AddUserToRoom(userID, roomID); err != nil {
		return "", err
	}
	return fmt.Sprintf("user %d joined room %d", userID, roomID), nil
}

func (sc *ServerCommands) kickRoom(_ context.Context, _ string, args []string) (string, error) {
	userID, roomID, err := twoIDs(args, "kickroom <user-id> <room-id>")
	if err != nil {
		return "", err
	}
	if err := sc.api.KickUserFromRoom(userID, roomID); err != nil {
		return "", err
	}
	return fmt.Sprintf("user %d removed from room %d", userID, roomID), nil
}

func (sc *ServerCommands) roomInfo(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("roominfo <room-id>")
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	r, err := sc.api.RoomInfo(id)
	if err != nil {
		return "", err
	}
	return marshal(r)
}

func (sc *ServerCommands) setMaxUsers(_ context.Context, _ string, args []string) (string, error) {
	roomID, count, err := twoIDs(args, "setmaxusers <room-id> <count>")
	if err != nil {
		return "", err
	}
	if err := sc.api.SetRoomMaxUsers(roomID, count); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %d capacity set to %d", roomID, count), nil
}

func (sc *ServerCommands) setLock(_ context.Context, _ string, args []string) (string, error) {
	if len(args) != 2 {
		return "", usage("setlock <room-id> <on|off>")
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	var locked bool
	switch args[1] {
	case "on", "true":
		locked = true
	case "off", "false":
		locked = false
	default:
		return "", usage("setlock <room-id> <on|off>")
	}
	if err := sc.api.SetRoomLock(id, locked); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %d lock set to %t", id, locked), nil
}

func (sc *ServerCommands) cycleMode(_ context.Context, _ string, args []string) (string, error) {
	return sc.setCycle(args, true, "cyclemode <room-id>")
}

func (sc *ServerCommands) normalMode(_ context.Context, _ string, args []string) (string, error) {
	return sc.setCycle(args, false, "normalmode <room-id>")
}

func (sc *ServerCommands) setCycle(args []string, cycle bool, usageText string) (string, error) {
	if len(args) != 1 {
		return "", usage(usageText)
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	if err := sc.api.SetRoomCycle(id, cycle); err != nil {
		return "", err
	}
	mode := "normal"
	if cycle {
		mode = "cycle"
	}
	return fmt.Sprintf("room %d switched to %s mode", id, mode), nil
}

func (sc *ServerCommands) startPrep(_ context.Context, _ string, args []string) (string, error) {
	return sc.roomPhase(args, "startprep <room-id>", sc.api.StartRoomPreparation, "preparation started")
}

func (sc *ServerCommands) endPrep(_ context.Context, _ string, args []string) (string, error) {
	return sc.roomPhase(args, "endprep <room-id>", sc.api.EndRoomPreparation, "preparation ended")
}

func (sc *ServerCommands) forceStart(_ context.Context, _ string, args []string) (string, error) {
	return sc.roomPhase(args, "forcestart <room-id>", sc.api.ForceStartRoomGame, "game started")
}

func (sc *ServerCommands) roomPhase(args []string, usageText string, op func(uint32) error, verb string) (string, error) {
	if len(args) != 1 {
		return "", usage(usageText)
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	if err := op(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %d: %s", id, verb), nil
}

func (sc *ServerCommands) selectChart(_ context.Context, _ string, args []string) (string, error) {
	roomID, chartID, err := twoIDs(args, "selectchart <room-id> <chart-id>")
	if err != nil {
		return "", err
	}
	if err := sc.api.SelectRoomChart(roomID, chartID); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %d chart set to %d", roomID, chartID), nil
}

func (sc *ServerCommands) sendMsg(_ context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 {
		return "", usage("sendmsg <user-id> <message>")
	}
	id, err := parseID(args[0], "user id")
	if err != nil {
		return "", err
	}
	if err := sc.api.SendMessageToUser(id, strings.Join(args[1:], " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("message sent to user %d", id), nil
}

func (sc *ServerCommands) broadcastAll(_ context.Context, _ string, args []string) (string, error) {
	if len(args) == 0 {
		return "", usage("broadcastall <message>")
	}
	sc.api.BroadcastToAll(strings.Join(args, " "))
	return "broadcast sent", nil
}

func (sc *ServerCommands) broadcastRoom(_ context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 {
		return "", usage("broadcastroom <room-id> <message>")
	}
	id, err := parseID(args[0], "room id")
	if err != nil {
		return "", err
	}
	if err := sc.api.BroadcastToRoom(id, strings.Join(args[1:], " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("broadcast sent to room %d", id), nil
}

func (sc *ServerCommands) broadcastRooms(_ context.Context, _ string, args []string) (string, error) {
	if len(args) == 0 {
		return "", usage("broadcastrooms <message>")
	}
	sc.api.BroadcastToAllRooms(strings.Join(args, " "))
	return "broadcast sent to all rooms", nil
}

func (sc *ServerCommands) plugins(_ context.Context, _ string, _ []string) (string, error) {
	list, err := sc.api.PluginList()
	if err != nil {
		return "", err
	}
	return marshal(list)
}

func (sc *ServerCommands) reload(ctx context.Context, _ string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("reload <plugin>")
	}
	if err := sc.api.ReloadPlugin(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("plugin %q reloaded", args[0]), nil
}

func (sc *ServerCommands) reloadAll(ctx context.Context, _ string, _ []string) (string, error) {
	if err := sc.api.ReloadAllPlugins(ctx); err != nil {
		return "", err
	}
	return "all plugins reloaded", nil
}

func (sc *ServerCommands) onlineCount(_ context.Context, _ string, _ []string) (string, error) {
	return strconv.Itoa(sc.api.OnlineUserCount()), nil
}

func (sc *ServerCommands) onlineUsers(_ context.Context, _ string, _ []string) (string, error) {
	return marshal(sc.api.OnlineUserIDs())
}

func (sc *ServerCommands) rooms(_ context.Context, _ string, _ []string) (string, error) {
	return marshal(sc.api.State().Rooms())
}

func (sc *ServerCommands) availableRooms(_ context.Context, _ string, _ []string) (string, error) {
	return strconv.Itoa(sc.api.AvailableRoomCount()), nil
}

func twoIDs(args []string, usageText string) (uint32, uint32, error) {
	if len(args) != 2 {
		return 0, 0, usage(usageText)
	}
	first, err := parseID(args[0], "id")
	if err != nil {
		return 0, 0, err
	}
	second, err := parseID(args[1], "id")
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func marshal(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", oops.Code(CodeAPI).Wrap(err)
	}
	return string(out), nil
}
