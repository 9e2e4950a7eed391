package store

import (
	"ex-mirror/pkg/mirror"
)

var _ mirror.Cache = (*Store)(nil)

func lookup[T any](s *Store, read func(*ReadTx) (T, bool)) (T, bool) {
	var (
		value T
		found bool
	)
	_ = s.View(func(tx *ReadTx) error {
		value, found = read(tx)
		return nil
	})

	return value, found
}

func collect[T any](s *Store, read func(*ReadTx) []T) []T {
	var values []T
	_ = s.View(func(tx *ReadTx) error {
		values = read(tx)
		return nil
	})

	return values
}

// Self returns the session's own user once bootstrapped.
func (s *Store) Self() (mirror.User, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.User, bool) { return tx.Self() })
}

// User returns the cached user.
func (s *Store) User(userID string) (mirror.User, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.User, bool) { return tx.Users.Get(userID) })
}

// Member returns the cached membership of userID in serverID.
func (s *Store) Member(serverID, userID string) (mirror.Member, bool) {
	key := mirror.MemberKey{ServerID: serverID, UserID: userID}
	return lookup(s, func(tx *ReadTx) (mirror.Member, bool) { return tx.Members.Get(key) })
}

// Server returns the cached server.
func (s *Store) Server(serverID string) (mirror.Server, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Server, bool) { return tx.Servers.Get(serverID) })
}

// Channel returns the cached channel of any variant.
func (s *Store) Channel(channelID string) (mirror.Channel, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Channel, bool) { return tx.Channels.Get(channelID) })
}

// Role returns the cached role of serverID.
func (s *Store) Role(serverID, roleID string) (mirror.Role, bool) {
	key := mirror.RoleKey{ServerID: serverID, RoleID: roleID}
	return lookup(s, func(tx *ReadTx) (mirror.Role, bool) { return tx.Roles.Get(key) })
}

// Message returns the cached message.
func (s *Store) Message(channelID, messageID string) (mirror.Message, bool) {
	key := mirror.MessageKey{ChannelID: channelID, MessageID: messageID}
	return lookup(s, func(tx *ReadTx) (mirror.Message, bool) { return tx.Messages.Get(key) })
}

// Emoji returns the cached emoji.
func (s *Store) Emoji(emojiID string) (mirror.Emoji, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Emoji, bool) { return tx.Emojis.Get(emojiID) })
}

// DeletedUser returns the shadowed copy of a removed or replaced user while it is retained.
func (s *Store) DeletedUser(userID string) (mirror.User, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.User, bool) { return tx.Users.Deleted(userID) })
}

// DeletedMember returns the shadowed copy of a removed or replaced membership.
func (s *Store) DeletedMember(serverID, userID string) (mirror.Member, bool) {
	key := mirror.MemberKey{ServerID: serverID, UserID: userID}
	return lookup(s, func(tx *ReadTx) (mirror.Member, bool) { return tx.Members.Deleted(key) })
}

// DeletedServer returns the shadowed copy of a removed or replaced server.
func (s *Store) DeletedServer(serverID string) (mirror.Server, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Server, bool) { return tx.Servers.Deleted(serverID) })
}

// DeletedChannel returns the shadowed copy of a removed or replaced channel.
func (s *Store) DeletedChannel(channelID string) (mirror.Channel, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Channel, bool) { return tx.Channels.Deleted(channelID) })
}

// DeletedRole returns the shadowed copy of a removed or replaced role.
func (s *Store) DeletedRole(serverID, roleID string) (mirror.Role, bool) {
	key := mirror.RoleKey{ServerID: serverID, RoleID: roleID}
	return lookup(s, func(tx *ReadTx) (mirror.Role, bool) { return tx.Roles.Deleted(key) })
}

// DeletedMessage returns the shadowed copy of a deleted or edited message.
func (s *Store) DeletedMessage(channelID, messageID string) (mirror.Message, bool) {
	key := mirror.MessageKey{ChannelID: channelID, MessageID: messageID}
	return lookup(s, func(tx *ReadTx) (mirror.Message, bool) { return tx.Messages.Deleted(key) })
}

// DeletedEmoji returns the shadowed copy of a deleted emoji.
func (s *Store) DeletedEmoji(emojiID string) (mirror.Emoji, bool) {
	return lookup(s, func(tx *ReadTx) (mirror.Emoji, bool) { return tx.Emojis.Deleted(emojiID) })
}

// Servers returns every cached server.
func (s *Store) Servers() []mirror.Server {
	return collect(s, func(tx *ReadTx) []mirror.Server { return tx.Servers.List(nil) })
}

// Members returns the cached memberships of serverID.
func (s *Store) Members(serverID string) []mirror.Member {
	return collect(s, func(tx *ReadTx) []mirror.Member {
		return tx.Members.List(func(member mirror.Member) bool { return member.ID.ServerID == serverID })
	})
}

// Roles returns the server's cached roles in rank order.
func (s *Store) Roles(serverID string) []mirror.Role {
	return collect(s, func(tx *ReadTx) []mirror.Role {
		roles := tx.Roles.List(func(role mirror.Role) bool { return role.ServerID == serverID })
		mirror.SortRoles(roles)
		return roles
	})
}

// Channels resolves the server's channel list in order, skipping ids that
// are not cached.
func (s *Store) Channels(serverID string) []mirror.Channel {
	return collect(s, func(tx *ReadTx) []mirror.Channel {
		server, found := tx.Servers.Get(serverID)
		if !found {
			return nil
		}
		channels := make([]mirror.Channel, 0, len(server.ChannelIDs))
		for _, channelID := range server.ChannelIDs {
			if channel, ok := tx.Channels.Get(channelID); ok {
				channels = append(channels, channel)
			}
		}
		return channels
	})
}

// MemberServers returns the cached servers userID is a member of.
func (s *Store) MemberServers(userID string) []mirror.Server {
	return collect(s, func(tx *ReadTx) []mirror.Server {
		memberships := tx.Members.Keys(func(member mirror.Member) bool { return member.ID.UserID == userID })
		servers := make([]mirror.Server, 0, len(memberships))
		for _, key := range memberships {
			if server, ok := tx.Servers.Get(key.ServerID); ok {
				servers = append(servers, server)
			}
		}
		return servers
	})
}
