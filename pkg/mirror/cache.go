package mirror

// Cache is the read-only query surface over mirrored state. Lookups report
// absence through the boolean and never fail. Returned values are copies.
type Cache interface {
	// Self returns the session's own user once bootstrapped.
	Self() (User, bool)
	User(userID string) (User, bool)
	Member(serverID, userID string) (Member, bool)
	Server(serverID string) (Server, bool)
	Channel(channelID string) (Channel, bool)
	Role(serverID, roleID string) (Role, bool)
	Message(channelID, messageID string) (Message, bool)
	Emoji(emojiID string) (Emoji, bool)

	// Deleted* return the last value shadowed by a delete or update while
	// it is still within the tombstone retention window.
	DeletedUser(userID string) (User, bool)
	DeletedMember(serverID, userID string) (Member, bool)
	DeletedServer(serverID string) (Server, bool)
	DeletedChannel(channelID string) (Channel, bool)
	DeletedRole(serverID, roleID string) (Role, bool)
	DeletedMessage(channelID, messageID string) (Message, bool)
	DeletedEmoji(emojiID string) (Emoji, bool)

	Servers() []Server
	// Members lists the cached members of one server.
	Members(serverID string) []Member
	// Roles lists one server's roles ordered by rank.
	Roles(serverID string) []Role
	// Channels lists the channels one server currently references.
	Channels(serverID string) []Channel
	// MemberServers lists the servers a user is a cached member of.
	MemberServers(userID string) []Server
}
