package store

import (
	"ex-mirror/internal/merge"
	"ex-mirror/pkg/mirror"
)

// CascadeReport counts what one server removal took with it.
type CascadeReport struct {
	Server   bool
	Members  int
	Users    int
	Channels int
	Roles    int
	Messages int
	Emojis   int
}

// RemoveServer deletes a server and everything it owns: members, users whose
// only shared server it was, channels with their messages, roles and emoji.
// The users to drop are decided from the membership table before anything is
// removed. An uncached server leaves the store untouched.
func (tx *Tx) RemoveServer(serverID string) CascadeReport {
	server, found := tx.Servers.Get(serverID)
	if !found {
		return CascadeReport{}
	}

	members := tx.Members.Keys(func(member mirror.Member) bool {
		return member.ID.ServerID == serverID
	})
	orphans := tx.orphanedBy(serverID, members)

	report := CascadeReport{Server: true}
	for _, key := range members {
		if _, removed := tx.Members.Delete(key); removed {
			report.Members++
		}
	}
	for _, userID := range orphans {
		if _, removed := tx.Users.Delete(userID); removed {
			report.Users++
		}
	}

	for _, channelID := range tx.serverChannelIDs(server) {
		if _, removed := tx.Channels.Delete(channelID); removed {
			report.Channels++
		}
		report.Messages += tx.dropMessages(channelID)
	}

	roles := tx.Roles.Keys(func(role mirror.Role) bool { return role.ServerID == serverID })
	for _, key := range roles {
		if _, removed := tx.Roles.Delete(key); removed {
			report.Roles++
		}
	}

	emojis := tx.Emojis.Keys(func(emoji mirror.Emoji) bool { return emoji.ServerID() == serverID })
	for _, emojiID := range emojis {
		if _, removed := tx.Emojis.Delete(emojiID); removed {
			report.Emojis++
		}
	}

	tx.Servers.Delete(serverID)

	return report
}

// RemoveMember deletes one membership and, when it was the user's last
// shared server, the user too. The session's own user is never removed.
func (tx *Tx) RemoveMember(serverID, userID string) (removedMember bool, removedUser bool) {
	key := mirror.MemberKey{ServerID: serverID, UserID: userID}
	if _, found := tx.Members.Get(key); !found {
		return false, false
	}
	orphans := tx.orphanedBy(serverID, []mirror.MemberKey{key})

	tx.Members.Delete(key)
	for _, orphan := range orphans {
		if _, removed := tx.Users.Delete(orphan); removed {
			removedUser = true
		}
	}

	return true, removedUser
}

// RemoveChannel deletes a channel, drops its messages and unlists it from
// its server.
func (tx *Tx) RemoveChannel(channelID string) (removed bool, messages int) {
	channel, found := tx.Channels.Delete(channelID)
	if !found {
		return false, 0
	}
	messages = tx.dropMessages(channelID)

	if serverID := channel.OwningServer(); serverID != "" {
		if server, ok := tx.Servers.Get(serverID); ok {
			tx.Servers.Set(serverID, merge.ServerWithoutChannel(server, channelID))
		}
	}

	return true, messages
}

// RemoveRole deletes a role, unlists it from its server and strips it from
// every member that held it.
func (tx *Tx) RemoveRole(serverID, roleID string) bool {
	key := mirror.RoleKey{ServerID: serverID, RoleID: roleID}
	if _, found := tx.Roles.Delete(key); !found {
		return false
	}

	if server, ok := tx.Servers.Get(serverID); ok {
		remaining := tx.Roles.List(func(role mirror.Role) bool { return role.ServerID == serverID })
		tx.Servers.Set(serverID, merge.ServerWithRoles(server, remaining))
	}
	holders := tx.Members.List(func(member mirror.Member) bool {
		return member.ID.ServerID == serverID && containsString(member.RoleIDs, roleID)
	})
	for _, member := range holders {
		tx.Members.Set(member.ID, merge.MemberWithoutRole(member, roleID))
	}

	return true
}

// WipeUser removes every membership of a user and then the user.
func (tx *Tx) WipeUser(userID string) (members int, removedUser bool) {
	keys := tx.Members.Keys(func(member mirror.Member) bool { return member.ID.UserID == userID })
	for _, key := range keys {
		if _, removed := tx.Members.Delete(key); removed {
			members++
		}
	}
	_, removedUser = tx.Users.Delete(userID)

	return members, removedUser
}

// orphanedBy returns the users among leaving whose every cached membership
// is in serverID.
func (tx *Tx) orphanedBy(serverID string, leaving []mirror.MemberKey) []string {
	shared := make(map[string]int, len(leaving))
	for _, key := range leaving {
		shared[key.UserID] = 0
	}
	tx.Members.data.scan(tx.Members.now, func(key mirror.MemberKey, _ mirror.Member) bool {
		if _, tracked := shared[key.UserID]; tracked && key.ServerID != serverID {
			shared[key.UserID]++
		}
		return true
	})

	selfID := tx.SelfID()
	orphans := make([]string, 0, len(shared))
	for _, key := range leaving {
		if shared[key.UserID] == 0 && key.UserID != selfID {
			orphans = append(orphans, key.UserID)
			shared[key.UserID] = -1
		}
	}

	return orphans
}

// serverChannelIDs unions the server's channel list with cached channels
// that name it as owner.
func (tx *Tx) serverChannelIDs(server mirror.Server) []string {
	ids := append([]string(nil), server.ChannelIDs...)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	owned := tx.Channels.Keys(func(channel mirror.Channel) bool {
		return channel.OwningServer() == server.ID
	})
	for _, id := range owned {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}

	return ids
}

// dropMessages removes a channel's messages without shadowing them.
func (tx *Tx) dropMessages(channelID string) int {
	keys := tx.Messages.Keys(func(message mirror.Message) bool { return message.ChannelID == channelID })
	for _, key := range keys {
		tx.Messages.Drop(key)
	}

	return len(keys)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}

	return false
}
