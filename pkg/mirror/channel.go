package mirror

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ChannelType is the wire discriminant of a channel variant.
type ChannelType string

const (
	ChannelTypeText          ChannelType = "TextChannel"
	ChannelTypeVoice         ChannelType = "VoiceChannel"
	ChannelTypeGroup         ChannelType = "Group"
	ChannelTypeDirectMessage ChannelType = "DirectMessage"
	ChannelTypeSavedMessages ChannelType = "SavedMessages"
)

// Channel is the closed set of channel variants. Callers switch on the
// concrete type: *TextChannel, *VoiceChannel, *GroupChannel, *DMChannel,
// *SavedMessagesChannel.
type Channel interface {
	// ChannelID returns the channel identifier.
	ChannelID() string
	// Type returns the variant discriminant.
	Type() ChannelType
	// OwningServer returns the server id for server channels and "" otherwise.
	OwningServer() string

	sealedChannel()
}

// TextChannel is a server text channel.
type TextChannel struct {
	ID                 string                        `json:"_id" validate:"required"`
	ServerID           string                        `json:"server" validate:"required"`
	Name               string                        `json:"name"`
	Description        *string                       `json:"description,omitempty"`
	Icon               *File                         `json:"icon,omitempty"`
	LastMessageID      *string                       `json:"last_message_id,omitempty"`
	DefaultPermissions *PermissionOverride           `json:"default_permissions,omitempty"`
	RolePermissions    map[string]PermissionOverride `json:"role_permissions,omitempty"`
	NSFW               bool                          `json:"nsfw,omitempty"`
}

// VoiceChannel is a server voice channel.
type VoiceChannel struct {
	ID                 string                        `json:"_id" validate:"required"`
	ServerID           string                        `json:"server" validate:"required"`
	Name               string                        `json:"name"`
	Description        *string                       `json:"description,omitempty"`
	Icon               *File                         `json:"icon,omitempty"`
	DefaultPermissions *PermissionOverride           `json:"default_permissions,omitempty"`
	RolePermissions    map[string]PermissionOverride `json:"role_permissions,omitempty"`
	NSFW               bool                          `json:"nsfw,omitempty"`
}

// GroupChannel is a multi-user private group.
type GroupChannel struct {
	ID            string   `json:"_id" validate:"required"`
	Name          string   `json:"name"`
	OwnerID       string   `json:"owner"`
	Description   *string  `json:"description,omitempty"`
	Recipients    []string `json:"recipients"`
	Icon          *File    `json:"icon,omitempty"`
	LastMessageID *string  `json:"last_message_id,omitempty"`
	Permissions   *int64   `json:"permissions,omitempty"`
	NSFW          bool     `json:"nsfw,omitempty"`
}

// DMChannel is a direct conversation between two users.
type DMChannel struct {
	ID            string   `json:"_id" validate:"required"`
	Active        bool     `json:"active"`
	Recipients    []string `json:"recipients"`
	LastMessageID *string  `json:"last_message_id,omitempty"`
}

// SavedMessagesChannel is a user's personal notes channel.
type SavedMessagesChannel struct {
	ID     string `json:"_id" validate:"required"`
	UserID string `json:"user"`
}

func (c *TextChannel) ChannelID() string    { return c.ID }
func (c *TextChannel) Type() ChannelType    { return ChannelTypeText }
func (c *TextChannel) OwningServer() string { return c.ServerID }
func (*TextChannel) sealedChannel()         {}

func (c *VoiceChannel) ChannelID() string    { return c.ID }
func (c *VoiceChannel) Type() ChannelType    { return ChannelTypeVoice }
func (c *VoiceChannel) OwningServer() string { return c.ServerID }
func (*VoiceChannel) sealedChannel()         {}

func (c *GroupChannel) ChannelID() string  { return c.ID }
func (c *GroupChannel) Type() ChannelType  { return ChannelTypeGroup }
func (*GroupChannel) OwningServer() string { return "" }
func (*GroupChannel) sealedChannel()       {}

func (c *DMChannel) ChannelID() string  { return c.ID }
func (c *DMChannel) Type() ChannelType  { return ChannelTypeDirectMessage }
func (*DMChannel) OwningServer() string { return "" }
func (*DMChannel) sealedChannel()       {}

func (c *SavedMessagesChannel) ChannelID() string  { return c.ID }
func (c *SavedMessagesChannel) Type() ChannelType  { return ChannelTypeSavedMessages }
func (*SavedMessagesChannel) OwningServer() string { return "" }
func (*SavedMessagesChannel) sealedChannel()       {}

// DecodeChannel decodes one channel object, selecting the variant by its
// channel_type field.
func DecodeChannel(data []byte) (Channel, error) {
	kind := gjson.GetBytes(data, "channel_type")
	if !kind.Exists() {
		return nil, fmt.Errorf("decode channel: missing channel_type: %w", ErrMalformedEvent)
	}

	var channel Channel
	switch ChannelType(kind.String()) {
	case ChannelTypeText:
		channel = &TextChannel{}
	case ChannelTypeVoice:
		channel = &VoiceChannel{}
	case ChannelTypeGroup:
		channel = &GroupChannel{}
	case ChannelTypeDirectMessage:
		channel = &DMChannel{}
	case ChannelTypeSavedMessages:
		channel = &SavedMessagesChannel{}
	default:
		return nil, fmt.Errorf("decode channel: channel_type %q: %w", kind.String(), ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, channel); err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", kind.String(), err)
	}

	return channel, nil
}

// CloneChannel returns a deep copy so cached channels are never aliased by
// callers.
func CloneChannel(channel Channel) Channel {
	switch typed := channel.(type) {
	case *TextChannel:
		cloned := *typed
		cloned.RolePermissions = ClonePermissions(typed.RolePermissions)
		return &cloned
	case *VoiceChannel:
		cloned := *typed
		cloned.RolePermissions = ClonePermissions(typed.RolePermissions)
		return &cloned
	case *GroupChannel:
		cloned := *typed
		cloned.Description = clonePtr(typed.Description)
		cloned.Icon = cloneFile(typed.Icon)
		cloned.Recipients = cloneSlice(typed.Recipients)
		return &cloned
	case *DMChannel:
		cloned := *typed
		cloned.Recipients = cloneSlice(typed.Recipients)
		return &cloned
	case *SavedMessagesChannel:
		cloned := *typed
		return &cloned
	default:
		return nil
	}
}
