package mirror

import (
	"time"
)

// EntityKind names one entity container in the mirror.
type EntityKind string

const (
	// EntityKindUser identifies users.
	EntityKindUser EntityKind = "user"
	// EntityKindMember identifies server members.
	EntityKindMember EntityKind = "member"
	// EntityKindServer identifies servers.
	EntityKindServer EntityKind = "server"
	// EntityKindChannel identifies channels of every variant.
	EntityKindChannel EntityKind = "channel"
	// EntityKindRole identifies server roles.
	EntityKindRole EntityKind = "role"
	// EntityKindMessage identifies channel messages.
	EntityKindMessage EntityKind = "message"
	// EntityKindEmoji identifies custom emoji.
	EntityKindEmoji EntityKind = "emoji"
)

// FieldName is a field identifier used by clear directives in update events.
type FieldName string

// DefaultRoleColour is the colour a role falls back to when its colour is cleared.
const DefaultRoleColour = "#ff4655"

// MemberKey identifies one server membership.
type MemberKey struct {
	ServerID string `json:"server" validate:"required"`
	UserID   string `json:"user" validate:"required"`
}

// RoleKey identifies one role inside a server.
type RoleKey struct {
	ServerID string
	RoleID   string
}

// MessageKey identifies one message inside a channel.
type MessageKey struct {
	ChannelID string
	MessageID string
}

// File is an uploaded asset reference.
type File struct {
	ID          string        `json:"_id"`
	Tag         string        `json:"tag,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	Metadata    *FileMetadata `json:"metadata,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Size        int64         `json:"size,omitempty"`
	Deleted     bool          `json:"deleted,omitempty"`
	Reported    bool          `json:"reported,omitempty"`
	MessageID   string        `json:"message_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	ServerID    string        `json:"server_id,omitempty"`
	ObjectID    string        `json:"object_id,omitempty"`
}

// FileMetadata describes an asset's media type and dimensions.
type FileMetadata struct {
	Type   string `json:"type,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// UserStatus is a user's custom status line.
type UserStatus struct {
	Text     *string `json:"text,omitempty"`
	Presence *string `json:"presence,omitempty"`
}

// UserProfile is a user's profile page content.
type UserProfile struct {
	Content    *string `json:"content,omitempty"`
	Background *File   `json:"background,omitempty"`
}

// BotInfo marks a user as a bot account.
type BotInfo struct {
	Owner string `json:"owner"`
}

// User is a platform account.
type User struct {
	ID            string       `json:"_id" validate:"required"`
	Username      string       `json:"username"`
	Discriminator string       `json:"discriminator,omitempty"`
	DisplayName   *string      `json:"display_name,omitempty"`
	Avatar        *File        `json:"avatar,omitempty"`
	Relationship  string       `json:"relationship,omitempty"`
	Badges        int64        `json:"badges,omitempty"`
	Status        *UserStatus  `json:"status,omitempty"`
	Profile       *UserProfile `json:"profile,omitempty"`
	Flags         int64        `json:"flags,omitempty"`
	Privileged    bool         `json:"privileged,omitempty"`
	Bot           *BotInfo     `json:"bot,omitempty"`
	Online        bool         `json:"online,omitempty"`
}

// IsBot reports whether the account is a bot.
func (u User) IsBot() bool {
	return u.Bot != nil
}

// Member is a user's membership in one server.
type Member struct {
	ID       MemberKey  `json:"_id"`
	JoinedAt time.Time  `json:"joined_at"`
	Nickname *string    `json:"nickname,omitempty"`
	Avatar   *File      `json:"avatar,omitempty"`
	RoleIDs  []string   `json:"roles,omitempty"`
	Timeout  *time.Time `json:"timeout,omitempty"`
}

// DisplayName returns the nickname when present, else the backing user's username.
func (m Member) DisplayName(user User, userFound bool) string {
	if m.Nickname != nil {
		return *m.Nickname
	}
	if userFound {
		return user.Username
	}

	return ""
}

// PermissionOverride is an allow/deny permission bit pair.
type PermissionOverride struct {
	Allow int64 `json:"a"`
	Deny  int64 `json:"d"`
}

// Role is a server role. Roles arrive inline in server payloads and are
// stored in their own container.
type Role struct {
	ID          string             `json:"-"`
	ServerID    string             `json:"-"`
	Name        string             `json:"name"`
	Permissions PermissionOverride `json:"permissions"`
	Colour      *string            `json:"colour,omitempty"`
	Hoist       bool               `json:"hoist,omitempty"`
	Rank        int64              `json:"rank"`
}

// Key returns the role's composite key.
func (r Role) Key() RoleKey {
	return RoleKey{ServerID: r.ServerID, RoleID: r.RoleID()}
}

// RoleID returns the role identifier.
func (r Role) RoleID() string {
	return r.ID
}

// Category groups server channels under a title.
type Category struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Channels []string `json:"channels"`
}

// SystemMessageChannels routes server system notices to channels.
type SystemMessageChannels struct {
	UserJoined *string `json:"user_joined,omitempty"`
	UserLeft   *string `json:"user_left,omitempty"`
	UserKicked *string `json:"user_kicked,omitempty"`
	UserBanned *string `json:"user_banned,omitempty"`
}

// Server is a guild. ChannelIDs and RoleIDs are authoritative identifier
// lists; the objects themselves live in their own containers.
type Server struct {
	ID                 string                 `json:"_id"`
	OwnerID            string                 `json:"owner"`
	Name               string                 `json:"name"`
	Description        *string                `json:"description,omitempty"`
	ChannelIDs         []string               `json:"channels"`
	RoleIDs            []string               `json:"-"`
	Categories         []Category             `json:"categories,omitempty"`
	SystemMessages     *SystemMessageChannels `json:"system_messages,omitempty"`
	DefaultPermissions int64                  `json:"default_permissions"`
	Icon               *File                  `json:"icon,omitempty"`
	Banner             *File                  `json:"banner,omitempty"`
	Flags              int64                  `json:"flags,omitempty"`
	NSFW               bool                   `json:"nsfw,omitempty"`
	Analytics          bool                   `json:"analytics,omitempty"`
	Discoverable       bool                   `json:"discoverable,omitempty"`
}

// HasChannel reports whether channelID is listed on the server.
func (s Server) HasChannel(channelID string) bool {
	for _, id := range s.ChannelIDs {
		if id == channelID {
			return true
		}
	}

	return false
}

// Webhook identifies the webhook that posted a message.
type Webhook struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// Masquerade overrides the displayed author of a message.
type Masquerade struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Colour *string `json:"colour,omitempty"`
}

// Interactions configures reaction affordances on a message.
type Interactions struct {
	Reactions         []string `json:"reactions,omitempty"`
	RestrictReactions bool     `json:"restrict_reactions,omitempty"`
}

// Embed is a rich content block attached to a message.
type Embed struct {
	Type        string  `json:"type"`
	URL         *string `json:"url,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	IconURL     *string `json:"icon_url,omitempty"`
	SiteName    *string `json:"site_name,omitempty"`
	Colour      *string `json:"colour,omitempty"`
	Media       *File   `json:"media,omitempty"`
}

// SystemMessageType identifies a system notice variant.
type SystemMessageType string

const (
	SystemMessageText                      SystemMessageType = "text"
	SystemMessageUserAdded                 SystemMessageType = "user_added"
	SystemMessageUserRemoved               SystemMessageType = "user_remove"
	SystemMessageUserJoined                SystemMessageType = "user_joined"
	SystemMessageUserLeft                  SystemMessageType = "user_left"
	SystemMessageUserKicked                SystemMessageType = "user_kicked"
	SystemMessageUserBanned                SystemMessageType = "user_banned"
	SystemMessageChannelRenamed            SystemMessageType = "channel_renamed"
	SystemMessageChannelDescriptionChanged SystemMessageType = "channel_description_changed"
	SystemMessageChannelIconChanged        SystemMessageType = "channel_icon_changed"
	SystemMessageChannelOwnershipChanged   SystemMessageType = "channel_ownership_changed"
)

// SystemMessage is the payload of a platform-generated message. Fields not
// used by a variant stay empty.
type SystemMessage struct {
	Type    SystemMessageType `json:"type"`
	Content string            `json:"content,omitempty"`
	ID      string            `json:"id,omitempty"`
	By      string            `json:"by,omitempty"`
	Name    string            `json:"name,omitempty"`
	From    string            `json:"from,omitempty"`
	To      string            `json:"to,omitempty"`
}

// Message is a channel message.
type Message struct {
	ID           string              `json:"_id" validate:"required"`
	ChannelID    string              `json:"channel" validate:"required"`
	AuthorID     string              `json:"author"`
	Nonce        string              `json:"nonce,omitempty"`
	Webhook      *Webhook            `json:"webhook,omitempty"`
	Content      string              `json:"content,omitempty"`
	System       *SystemMessage      `json:"system,omitempty"`
	Attachments  []File              `json:"attachments,omitempty"`
	Edited       *time.Time          `json:"edited,omitempty"`
	Embeds       []Embed             `json:"embeds,omitempty"`
	Mentions     []string            `json:"mentions,omitempty"`
	Replies      []string            `json:"replies,omitempty"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
	Interactions *Interactions       `json:"interactions,omitempty"`
	Masquerade   *Masquerade         `json:"masquerade,omitempty"`
	Pinned       bool                `json:"pinned,omitempty"`
}

// Key returns the message's composite key.
func (m Message) Key() MessageKey {
	return MessageKey{ChannelID: m.ChannelID, MessageID: m.ID}
}

// EmojiParent identifies what owns a custom emoji.
type EmojiParent struct {
	// Type is "Server" or "Detached".
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Emoji is a custom emoji.
type Emoji struct {
	ID        string      `json:"_id" validate:"required"`
	Parent    EmojiParent `json:"parent"`
	CreatorID string      `json:"creator_id"`
	Name      string      `json:"name"`
	Animated  bool        `json:"animated,omitempty"`
	NSFW      bool        `json:"nsfw,omitempty"`
}

// ServerID returns the owning server id, or "" for detached emoji.
func (e Emoji) ServerID() string {
	if e.Parent.Type != "Server" {
		return ""
	}

	return e.Parent.ID
}
