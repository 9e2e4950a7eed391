package mirror

import (
	"encoding/json"
	"fmt"
)

// EventKind is the logical event name handlers subscribe to.
type EventKind string

const (
	EventKindAuthenticated         EventKind = "Authenticated"
	EventKindClientReady           EventKind = "ClientReady"
	EventKindMessageCreate         EventKind = "MessageCreate"
	EventKindMessageUpdate         EventKind = "MessageUpdate"
	EventKindMessageAppend         EventKind = "MessageAppend"
	EventKindMessageDelete         EventKind = "MessageDelete"
	EventKindBulkMessageDelete     EventKind = "BulkMessageDelete"
	EventKindMessageReact          EventKind = "MessageReact"
	EventKindMessageUnreact        EventKind = "MessageUnreact"
	EventKindMessageRemoveReaction EventKind = "MessageRemoveReaction"
	EventKindChannelCreate         EventKind = "ChannelCreate"
	EventKindChannelUpdate         EventKind = "ChannelUpdate"
	EventKindChannelDelete         EventKind = "ChannelDelete"
	EventKindChannelGroupJoin      EventKind = "ChannelGroupJoin"
	EventKindChannelGroupLeave     EventKind = "ChannelGroupLeave"
	EventKindChannelStartTyping    EventKind = "ChannelStartTyping"
	EventKindChannelStopTyping     EventKind = "ChannelStopTyping"
	EventKindChannelAck            EventKind = "ChannelAck"
	EventKindServerCreate          EventKind = "ServerCreate"
	EventKindServerUpdate          EventKind = "ServerUpdate"
	EventKindServerDelete          EventKind = "ServerDelete"
	EventKindServerMemberUpdate    EventKind = "ServerMemberUpdate"
	EventKindServerMemberJoin      EventKind = "ServerMemberJoin"
	EventKindServerMemberLeave     EventKind = "ServerMemberLeave"
	EventKindServerRoleUpdate      EventKind = "ServerRoleUpdate"
	EventKindServerRoleDelete      EventKind = "ServerRoleDelete"
	EventKindUserUpdate            EventKind = "UserUpdate"
	EventKindUserRelationship      EventKind = "UserRelationship"
	EventKindUserPlatformWipe      EventKind = "UserPlatformWipe"
	EventKindEmojiCreate           EventKind = "EmojiCreate"
	EventKindEmojiDelete           EventKind = "EmojiDelete"
)

// GlobalPartition is the partition key of events whose cache maintenance
// spans several partitions. Such events are applied with every lane drained.
const GlobalPartition = ""

// Event is one typed gateway event.
type Event interface {
	// Kind returns the logical event name.
	Kind() EventKind
	// PartitionKey returns the identifier that orders this event's cache
	// writes relative to other events, or GlobalPartition.
	PartitionKey() string
}

// AuthenticatedEvent acknowledges the session token.
type AuthenticatedEvent struct{}

// ClientReadyEvent fires once the cache has been bootstrapped.
type ClientReadyEvent struct {
	Report BootstrapReport
}

// MessageCreateEvent carries a new message.
type MessageCreateEvent struct {
	Message Message
}

// MessageUpdateEvent carries a sparse message edit.
type MessageUpdateEvent struct {
	ID        string       `json:"id" validate:"required"`
	ChannelID string       `json:"channel" validate:"required"`
	Data      MessagePatch `json:"data"`
	Clear     []FieldName  `json:"clear,omitempty"`
}

// MessageAppendEvent appends embeds to a message.
type MessageAppendEvent struct {
	ID        string        `json:"id" validate:"required"`
	ChannelID string        `json:"channel" validate:"required"`
	Append    MessageAppend `json:"append"`
}

// MessageAppend is the appended content block.
type MessageAppend struct {
	Embeds []Embed `json:"embeds,omitempty"`
}

// MessageDeleteEvent removes a message.
type MessageDeleteEvent struct {
	ID        string `json:"id" validate:"required"`
	ChannelID string `json:"channel" validate:"required"`
}

// BulkMessageDeleteEvent removes several messages of one channel.
type BulkMessageDeleteEvent struct {
	ChannelID string   `json:"channel" validate:"required"`
	IDs       []string `json:"ids"`
}

// MessageReactEvent adds one user's reaction.
type MessageReactEvent struct {
	ID        string `json:"id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	EmojiID   string `json:"emoji_id" validate:"required"`
}

// MessageUnreactEvent removes one user's reaction.
type MessageUnreactEvent struct {
	ID        string `json:"id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	EmojiID   string `json:"emoji_id" validate:"required"`
}

// MessageRemoveReactionEvent removes every reaction with one emoji.
type MessageRemoveReactionEvent struct {
	ID        string `json:"id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	EmojiID   string `json:"emoji_id" validate:"required"`
}

// ChannelCreateEvent carries a new channel of any variant.
type ChannelCreateEvent struct {
	Channel Channel
}

// ChannelUpdateEvent carries a sparse channel edit.
type ChannelUpdateEvent struct {
	ID    string       `json:"id" validate:"required"`
	Data  ChannelPatch `json:"data"`
	Clear []FieldName  `json:"clear,omitempty"`
}

// ChannelDeleteEvent removes a channel.
type ChannelDeleteEvent struct {
	ID string `json:"id" validate:"required"`
}

// ChannelGroupJoinEvent adds a recipient to a group.
type ChannelGroupJoinEvent struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"user" validate:"required"`
}

// ChannelGroupLeaveEvent removes a recipient from a group.
type ChannelGroupLeaveEvent struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"user" validate:"required"`
}

// ChannelStartTypingEvent reports a user typing.
type ChannelStartTypingEvent struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"user" validate:"required"`
}

// ChannelStopTypingEvent reports a user no longer typing.
type ChannelStopTypingEvent struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"user" validate:"required"`
}

// ChannelAckEvent reports a read marker move.
type ChannelAckEvent struct {
	ID        string `json:"id" validate:"required"`
	UserID    string `json:"user" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

// ServerCreateEvent carries a server this session just joined, with its
// channels, roles and emoji.
type ServerCreateEvent struct {
	ID       string
	Server   Server
	Roles    []Role
	Channels []Channel
	Emojis   []Emoji
	// Skipped holds channels that failed to decode and were left out.
	Skipped []*ProtocolError
}

// ServerUpdateEvent carries a sparse server edit.
type ServerUpdateEvent struct {
	ID    string      `json:"id" validate:"required"`
	Data  ServerPatch `json:"data"`
	Clear []FieldName `json:"clear,omitempty"`
}

// ServerDeleteEvent removes a server and everything it owns.
type ServerDeleteEvent struct {
	ID string `json:"id" validate:"required"`
}

// ServerMemberUpdateEvent carries a sparse member edit.
type ServerMemberUpdateEvent struct {
	ID    MemberKey   `json:"id"`
	Data  MemberPatch `json:"data"`
	Clear []FieldName `json:"clear,omitempty"`
}

// ServerMemberJoinEvent reports a user joining a server.
type ServerMemberJoinEvent struct {
	ServerID string `json:"id" validate:"required"`
	UserID   string `json:"user" validate:"required"`
}

// ServerMemberLeaveEvent reports a user leaving or being removed from a server.
type ServerMemberLeaveEvent struct {
	ServerID string `json:"id" validate:"required"`
	UserID   string `json:"user" validate:"required"`
}

// ServerRoleUpdateEvent creates or edits a role.
type ServerRoleUpdateEvent struct {
	ServerID string      `json:"id" validate:"required"`
	RoleID   string      `json:"role_id" validate:"required"`
	Data     RolePatch   `json:"data"`
	Clear    []FieldName `json:"clear,omitempty"`
}

// ServerRoleDeleteEvent removes a role.
type ServerRoleDeleteEvent struct {
	ServerID string `json:"id" validate:"required"`
	RoleID   string `json:"role_id" validate:"required"`
}

// UserUpdateEvent carries a sparse user edit.
type UserUpdateEvent struct {
	ID    string      `json:"id" validate:"required"`
	Data  UserPatch   `json:"data"`
	Clear []FieldName `json:"clear,omitempty"`
}

// UserRelationshipEvent reports a relationship change with this session's user.
type UserRelationshipEvent struct {
	ID     string `json:"id"`
	User   User   `json:"user"`
	Status string `json:"status"`
}

// UserPlatformWipeEvent removes every trace of a user.
type UserPlatformWipeEvent struct {
	UserID string `json:"user_id" validate:"required"`
	Flags  int64  `json:"flags"`
}

// EmojiCreateEvent carries a new custom emoji.
type EmojiCreateEvent struct {
	Emoji Emoji
}

// EmojiDeleteEvent removes a custom emoji.
type EmojiDeleteEvent struct {
	ID string `json:"id" validate:"required"`
}

func (AuthenticatedEvent) Kind() EventKind         { return EventKindAuthenticated }
func (ClientReadyEvent) Kind() EventKind           { return EventKindClientReady }
func (MessageCreateEvent) Kind() EventKind         { return EventKindMessageCreate }
func (MessageUpdateEvent) Kind() EventKind         { return EventKindMessageUpdate }
func (MessageAppendEvent) Kind() EventKind         { return EventKindMessageAppend }
func (MessageDeleteEvent) Kind() EventKind         { return EventKindMessageDelete }
func (BulkMessageDeleteEvent) Kind() EventKind     { return EventKindBulkMessageDelete }
func (MessageReactEvent) Kind() EventKind          { return EventKindMessageReact }
func (MessageUnreactEvent) Kind() EventKind        { return EventKindMessageUnreact }
func (MessageRemoveReactionEvent) Kind() EventKind { return EventKindMessageRemoveReaction }
func (ChannelCreateEvent) Kind() EventKind         { return EventKindChannelCreate }
func (ChannelUpdateEvent) Kind() EventKind         { return EventKindChannelUpdate }
func (ChannelDeleteEvent) Kind() EventKind         { return EventKindChannelDelete }
func (ChannelGroupJoinEvent) Kind() EventKind      { return EventKindChannelGroupJoin }
func (ChannelGroupLeaveEvent) Kind() EventKind     { return EventKindChannelGroupLeave }
func (ChannelStartTypingEvent) Kind() EventKind    { return EventKindChannelStartTyping }
func (ChannelStopTypingEvent) Kind() EventKind     { return EventKindChannelStopTyping }
func (ChannelAckEvent) Kind() EventKind            { return EventKindChannelAck }
func (ServerCreateEvent) Kind() EventKind          { return EventKindServerCreate }
func (ServerUpdateEvent) Kind() EventKind          { return EventKindServerUpdate }
func (ServerDeleteEvent) Kind() EventKind          { return EventKindServerDelete }
func (ServerMemberUpdateEvent) Kind() EventKind    { return EventKindServerMemberUpdate }
func (ServerMemberJoinEvent) Kind() EventKind      { return EventKindServerMemberJoin }
func (ServerMemberLeaveEvent) Kind() EventKind     { return EventKindServerMemberLeave }
func (ServerRoleUpdateEvent) Kind() EventKind      { return EventKindServerRoleUpdate }
func (ServerRoleDeleteEvent) Kind() EventKind      { return EventKindServerRoleDelete }
func (UserUpdateEvent) Kind() EventKind            { return EventKindUserUpdate }
func (UserRelationshipEvent) Kind() EventKind      { return EventKindUserRelationship }
func (UserPlatformWipeEvent) Kind() EventKind      { return EventKindUserPlatformWipe }
func (EmojiCreateEvent) Kind() EventKind           { return EventKindEmojiCreate }
func (EmojiDeleteEvent) Kind() EventKind           { return EventKindEmojiDelete }

// Partition keys: message and channel events order by channel, server-scoped
// edits by server, user edits by user. Events that write across those scopes
// (creation and removal cascades, joins that insert users) are global.

func (AuthenticatedEvent) PartitionKey() string           { return GlobalPartition }
func (ClientReadyEvent) PartitionKey() string             { return GlobalPartition }
func (e MessageCreateEvent) PartitionKey() string         { return e.Message.ChannelID }
func (e MessageUpdateEvent) PartitionKey() string         { return e.ChannelID }
func (e MessageAppendEvent) PartitionKey() string         { return e.ChannelID }
func (e MessageDeleteEvent) PartitionKey() string         { return e.ChannelID }
func (e BulkMessageDeleteEvent) PartitionKey() string     { return e.ChannelID }
func (e MessageReactEvent) PartitionKey() string          { return e.ChannelID }
func (e MessageUnreactEvent) PartitionKey() string        { return e.ChannelID }
func (e MessageRemoveReactionEvent) PartitionKey() string { return e.ChannelID }
func (ChannelCreateEvent) PartitionKey() string           { return GlobalPartition }
func (e ChannelUpdateEvent) PartitionKey() string         { return e.ID }
func (ChannelDeleteEvent) PartitionKey() string           { return GlobalPartition }
func (e ChannelGroupJoinEvent) PartitionKey() string      { return e.ID }
func (e ChannelGroupLeaveEvent) PartitionKey() string     { return e.ID }
func (e ChannelStartTypingEvent) PartitionKey() string    { return e.ID }
func (e ChannelStopTypingEvent) PartitionKey() string     { return e.ID }
func (e ChannelAckEvent) PartitionKey() string            { return e.ID }
func (ServerCreateEvent) PartitionKey() string            { return GlobalPartition }
func (e ServerUpdateEvent) PartitionKey() string          { return e.ID }
func (ServerDeleteEvent) PartitionKey() string            { return GlobalPartition }
func (e ServerMemberUpdateEvent) PartitionKey() string    { return e.ID.ServerID }
func (ServerMemberJoinEvent) PartitionKey() string        { return GlobalPartition }
func (ServerMemberLeaveEvent) PartitionKey() string       { return GlobalPartition }
func (e ServerRoleUpdateEvent) PartitionKey() string      { return e.ServerID }
func (e ServerRoleDeleteEvent) PartitionKey() string      { return e.ServerID }
func (e UserUpdateEvent) PartitionKey() string            { return e.ID }
func (e UserRelationshipEvent) PartitionKey() string      { return e.User.ID }
func (UserPlatformWipeEvent) PartitionKey() string        { return GlobalPartition }
func (e EmojiCreateEvent) PartitionKey() string           { return e.Emoji.ID }
func (e EmojiDeleteEvent) PartitionKey() string           { return e.ID }

// UnmarshalJSON decodes a message frame whose fields sit at the top level.
func (e *MessageCreateEvent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Message)
}

// UnmarshalJSON decodes a channel frame whose fields sit at the top level.
func (e *ChannelCreateEvent) UnmarshalJSON(data []byte) error {
	channel, err := DecodeChannel(data)
	if err != nil {
		return err
	}
	e.Channel = channel

	return nil
}

// UnmarshalJSON decodes an emoji frame whose fields sit at the top level.
func (e *EmojiCreateEvent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Emoji)
}

// UnmarshalJSON decodes the server payload, splitting its inline role map
// into Role entities.
func (e *ServerCreateEvent) UnmarshalJSON(data []byte) error {
	var frame struct {
		ID       string            `json:"id"`
		Server   json.RawMessage   `json:"server"`
		Channels []json.RawMessage `json:"channels"`
		Emojis   []Emoji           `json:"emojis"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode server create: %w", err)
	}
	if len(frame.Server) == 0 {
		return fmt.Errorf("decode server create: missing server: %w", ErrMalformedEvent)
	}

	server, roles, err := DecodeServer(frame.Server)
	if err != nil {
		return fmt.Errorf("decode server create: %w", err)
	}
	var skipped []*ProtocolError
	channels := decodeChannels(frame.Channels, func(index int, err error) {
		skipped = append(skipped, &ProtocolError{
			Type: "ServerCreate",
			Err:  fmt.Errorf("channel %d: %w", index, err),
		})
	})

	e.ID = frame.ID
	if e.ID == "" {
		e.ID = server.ID
	}
	e.Server = server
	e.Roles = roles
	e.Channels = channels
	e.Emojis = frame.Emojis
	e.Skipped = skipped

	return nil
}

// decodeChannels decodes every channel it can and reports the rest to skip
// by index.
func decodeChannels(raws []json.RawMessage, skip func(index int, err error)) []Channel {
	channels := make([]Channel, 0, len(raws))
	for index, raw := range raws {
		channel, err := DecodeChannel(raw)
		if err != nil {
			skip(index, err)
			continue
		}
		channels = append(channels, channel)
	}

	return channels
}
